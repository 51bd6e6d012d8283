// Package api serves the FleetLink HTTP API and the two WebSocket channels.
//
// Hardware agents connect to the agent path and speak the typed message
// protocol handled by package agent. Dashboards connect to the dashboard path
// and exchange {"event","data"} envelopes handled by package dashboard. Both
// channel kinds share one connection type: a read goroutine that handles
// frames strictly in order and a write goroutine draining a bounded buffer.
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
