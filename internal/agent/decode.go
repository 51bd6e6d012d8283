package agent

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/nerrad567/fleetlink-core/internal/device"
)

const (
	maxMachineNameLength = 100
	maxIPAddressLength   = 45
)

type fieldType int

const (
	typeString fieldType = iota
	typeNumber
)

func (t fieldType) String() string {
	if t == typeNumber {
		return "number"
	}
	return "string"
}

type fieldRule struct {
	name     string
	typ      fieldType
	optional bool
}

type sectionRules struct {
	section string
	rules   []fieldRule
}

// hardwareRules describes the flat hardware sub-objects in reporting order.
// network is checked separately.
var hardwareRules = []sectionRules{
	{"cpu", []fieldRule{
		{name: "model", typ: typeString},
		{name: "cores", typ: typeNumber},
		{name: "speed", typ: typeNumber},
		{name: "usage", typ: typeNumber, optional: true},
	}},
	{"memory", capacityRules},
	{"storage", capacityRules},
	{"gpu", []fieldRule{
		{name: "model", typ: typeString},
		{name: "memory", typ: typeNumber, optional: true},
		{name: "usage", typ: typeNumber, optional: true},
	}},
	{"os", []fieldRule{
		{name: "name", typ: typeString},
		{name: "version", typ: typeString},
		{name: "architecture", typ: typeString},
		{name: "uptime", typ: typeNumber, optional: true},
	}},
	{"motherboard", []fieldRule{
		{name: "manufacturer", typ: typeString},
		{name: "model", typ: typeString},
	}},
}

var capacityRules = []fieldRule{
	{name: "total", typ: typeNumber},
	{name: "used", typ: typeNumber},
	{name: "available", typ: typeNumber},
	{name: "usage", typ: typeNumber, optional: true},
}

var interfaceRules = []fieldRule{
	{name: "name", typ: typeString},
	{name: "type", typ: typeString},
	{name: "speed", typ: typeNumber, optional: true},
}

// Decode parses and validates one inbound frame.
//
// It returns ErrFormat when the frame is not an object with a string
// messageType, an *UnknownTypeError for unrecognised types, and a
// *ValidationError listing every field problem otherwise. MAC addresses are
// returned in canonical form.
func Decode(raw []byte) (Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, ErrFormat
	}

	typ, ok := fields["messageType"].(string)
	if !ok || typ == "" {
		return nil, ErrFormat
	}

	kind := Kind(typ)
	v := &validator{kind: kind, fields: fields}

	var msg Message
	switch kind {
	case KindRegister:
		msg = Register{
			MACAddress:  v.mac(),
			IPAddress:   v.requiredString("ipAddress", "IP address", maxIPAddressLength),
			MachineName: v.requiredString("machineName", "Machine name", maxMachineNameLength),
			UserID:      v.optionalString("userId"),
			Hardware:    v.hardware(),
		}
	case KindExists:
		msg = Exists{MACAddress: v.mac()}
	case KindUpdate:
		msg = Update{
			MACAddress:  v.mac(),
			IPAddress:   v.requiredString("ipAddress", "IP address", maxIPAddressLength),
			MachineName: v.requiredString("machineName", "Machine name", maxMachineNameLength),
			Hardware:    v.hardware(),
		}
	case KindDisconnect:
		msg = Disconnect{MACAddress: v.mac()}
	case KindShutdown:
		msg = Shutdown{MACAddress: v.mac()}
	default:
		return nil, &UnknownTypeError{Type: typ}
	}

	if len(v.problems) > 0 {
		return nil, &ValidationError{Type: kind, Problems: v.problems}
	}
	return msg, nil
}

// validator accumulates field problems while extracting values.
type validator struct {
	kind     Kind
	fields   map[string]any
	problems []string
}

func (v *validator) problem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) requiredString(key, label string, maxLen int) string {
	raw, present := v.fields[key]
	s, ok := raw.(string)
	switch {
	case !present || raw == nil || (ok && s == ""):
		v.problem("%s is required", label)
		return ""
	case !ok:
		v.problem("%s must be a string", label)
		return ""
	case maxLen > 0 && utf8.RuneCountInString(s) > maxLen:
		v.problem("%s must be at most %d characters", label, maxLen)
		return ""
	}
	return s
}

func (v *validator) optionalString(key string) string {
	raw, present := v.fields[key]
	if !present || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		v.problem("%s must be a string", key)
	}
	return s
}

func (v *validator) mac() string {
	s := v.requiredString("macAddress", "MAC address", 0)
	if s == "" {
		return ""
	}
	mac, err := device.NormalizeMAC(s)
	if err != nil {
		v.problem("MAC address is invalid")
		return ""
	}
	return mac
}

// hardware validates the optional snapshot and converts it to its typed form.
// Unknown keys are dropped. A JSON null for the whole snapshot is treated as
// absent; inside it, null is never a valid value.
func (v *validator) hardware() *device.Hardware {
	raw, present := v.fields["hardware"]
	if !present || raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		v.problem("hardware must be an object")
		return nil
	}

	before := len(v.problems)
	for _, sr := range hardwareRules {
		sub, present := obj[sr.section]
		if !present {
			continue
		}
		v.object("hardware."+sr.section, sub, sr.rules)
	}
	if network, present := obj["network"]; present {
		v.network(network)
	}
	if len(v.problems) > before {
		return nil
	}

	// Round-trip through JSON to land in the typed struct.
	b, err := json.Marshal(obj)
	if err != nil {
		v.problem("hardware is not serialisable")
		return nil
	}
	var hw device.Hardware
	if err := json.Unmarshal(b, &hw); err != nil {
		v.problem("hardware is malformed")
		return nil
	}
	return &hw
}

func (v *validator) network(raw any) {
	obj, ok := raw.(map[string]any)
	if !ok {
		v.problem("hardware.network must be an object")
		return
	}
	list, ok := obj["interfaces"].([]any)
	if !ok {
		v.problem("hardware.network.interfaces must be an array")
		return
	}
	for i, item := range list {
		v.object(fmt.Sprintf("hardware.network.interfaces[%d]", i), item, interfaceRules)
	}
}

func (v *validator) object(path string, raw any, rules []fieldRule) {
	obj, ok := raw.(map[string]any)
	if !ok {
		v.problem("%s must be an object", path)
		return
	}
	for _, r := range rules {
		val, present := obj[r.name]
		if !present || (val == nil && !r.optional) {
			if !r.optional {
				v.problem("%s.%s is required", path, r.name)
			}
			continue
		}
		if !hasType(val, r.typ) {
			v.problem("%s.%s must be a %s", path, r.name, r.typ)
		}
	}
}

func hasType(val any, typ fieldType) bool {
	switch typ {
	case typeNumber:
		_, ok := val.(float64)
		return ok
	default:
		_, ok := val.(string)
		return ok
	}
}
