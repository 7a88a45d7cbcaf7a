// ABOUTME: Wire encoding of transfers and registrations as structpb values.
// ABOUTME: Arguments survive as their JSON-compatible kinds (bool stays bool).

package rpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/gotag/internal/contract"
)

func encodeTransfer(t contract.Transfer) (*structpb.Struct, error) {
	args := t.Args
	if args == nil {
		args = []any{}
	}
	s, err := structpb.NewStruct(map[string]any{
		"transfer_id": t.TransferID,
		"unit_id":     t.UnitID,
		"tagged":      t.Tagged,
		"phase":       t.Phase,
		"entry_point": t.EntryPoint,
		"args":        args,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding transfer: %w", err)
	}
	return s, nil
}

func decodeTransfer(s *structpb.Struct) contract.Transfer {
	f := s.GetFields()
	t := contract.Transfer{
		TransferID: f["transfer_id"].GetStringValue(),
		UnitID:     f["unit_id"].GetStringValue(),
		Tagged:     f["tagged"].GetBoolValue(),
		Phase:      f["phase"].GetStringValue(),
		EntryPoint: f["entry_point"].GetStringValue(),
	}
	for _, v := range f["args"].GetListValue().GetValues() {
		t.Args = append(t.Args, v.AsInterface())
	}
	return t
}

func encodeRegistration(r contract.Registration) (*structpb.Struct, error) {
	caps := make([]any, len(r.Capabilities))
	for i, c := range r.Capabilities {
		caps[i] = c
	}
	s, err := structpb.NewStruct(map[string]any{
		"host_id":       r.HostID,
		"addr":          r.Addr,
		"capabilities":  caps,
		"properties":    stringMap(r.Properties),
		"lease_seconds": r.Lease.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding registration: %w", err)
	}
	return s, nil
}

func decodeRegistration(s *structpb.Struct) contract.Registration {
	f := s.GetFields()
	r := contract.Registration{
		HostID:     f["host_id"].GetStringValue(),
		Addr:       f["addr"].GetStringValue(),
		Properties: decodeStringMap(f["properties"].GetStructValue()),
		Lease:      time.Duration(f["lease_seconds"].GetNumberValue() * float64(time.Second)),
	}
	for _, v := range f["capabilities"].GetListValue().GetValues() {
		r.Capabilities = append(r.Capabilities, v.GetStringValue())
	}
	return r
}

func encodeQuery(filter contract.Filter, maxResults int) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"capability":  filter.Capability,
		"properties":  stringMap(filter.Properties),
		"max_results": maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	return s, nil
}

func decodeQuery(s *structpb.Struct) (contract.Filter, int) {
	f := s.GetFields()
	filter := contract.Filter{
		Capability: f["capability"].GetStringValue(),
		Properties: decodeStringMap(f["properties"].GetStructValue()),
	}
	return filter, int(f["max_results"].GetNumberValue())
}

func encodeEndpoints(eps []contract.Endpoint) (*structpb.ListValue, error) {
	vals := make([]any, len(eps))
	for i, ep := range eps {
		vals[i] = map[string]any{"host_id": ep.HostID, "addr": ep.Addr}
	}
	l, err := structpb.NewList(vals)
	if err != nil {
		return nil, fmt.Errorf("encoding endpoints: %w", err)
	}
	return l, nil
}

func decodeEndpoints(l *structpb.ListValue) []contract.Endpoint {
	out := make([]contract.Endpoint, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		f := v.GetStructValue().GetFields()
		out = append(out, contract.Endpoint{
			HostID: f["host_id"].GetStringValue(),
			Addr:   f["addr"].GetStringValue(),
		})
	}
	return out
}

func encodeIDs(ids []string) *structpb.ListValue {
	vals := make([]*structpb.Value, len(ids))
	for i, id := range ids {
		vals[i] = structpb.NewStringValue(id)
	}
	return &structpb.ListValue{Values: vals}
}

func decodeIDs(l *structpb.ListValue) []string {
	out := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func decodeStringMap(s *structpb.Struct) map[string]string {
	out := make(map[string]string, len(s.GetFields()))
	for k, v := range s.GetFields() {
		out[k] = v.GetStringValue()
	}
	return out
}
