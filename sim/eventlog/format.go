package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// Format renders one event as a single line. Fields appear in a fixed
// order and only when set, so identical runs format byte-identically.
func Format(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08d t=%06d %-20s", ev.Seq, ev.Tick, ev.Kind)
	kv := func(key, val string) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(val)
	}
	if ev.AgentID != "" {
		kv("agent", ev.AgentID)
	}
	if ev.CounterpartyID != "" {
		kv("cp", ev.CounterpartyID)
	}
	if ev.TxID != "" {
		kv("tx", ev.TxID)
	}
	if ev.ParentID != "" {
		kv("parent", ev.ParentID)
	}
	if ev.Amount != 0 {
		kv("amount", strconv.FormatInt(ev.Amount, 10))
	}
	if ev.Kind == KindArrival || ev.Kind == KindPolicyReprioritize || ev.Kind == KindPriorityEscalated {
		kv("prio", strconv.Itoa(ev.Priority))
	}
	if ev.DeadlineTick != 0 {
		kv("deadline", strconv.FormatInt(ev.DeadlineTick, 10))
	}
	if ev.Divisible {
		kv("divisible", "true")
	}
	if ev.NodeID != "" {
		kv("node", ev.NodeID)
	}
	if ev.Reason != "" {
		kv("reason", ev.Reason)
	}
	if ev.Register != "" {
		kv("register", ev.Register)
	}
	if ev.Value != 0 || ev.Register != "" {
		kv("value", strconv.FormatFloat(ev.Value, 'g', -1, 64))
	}
	for _, l := range ev.Legs {
		kv("leg", fmt.Sprintf("%s:%s->%s:%d", l.TxID, l.SenderID, l.ReceiverID, l.Amount))
	}
	for _, c := range ev.Children {
		kv("child", fmt.Sprintf("%s:%d", c.TxID, c.Amount))
	}
	if ev.Costs != nil {
		c := ev.Costs
		kv("costs", fmt.Sprintf("od=%d,delay=%d,coll=%d,ddl=%d,split=%d,eod=%d",
			c.Overdraft, c.Delay, c.Collateral, c.DeadlinePenalty, c.SplitFriction, c.EODPenalty))
	}
	for _, p := range ev.Penalties {
		kv("penalty", fmt.Sprintf("%s:%dx=%d", p.AgentID, p.Count, p.Amount))
	}
	if len(ev.WrittenOff) > 0 {
		kv("written_off", strings.Join(ev.WrittenOff, ","))
	}
	if len(ev.Rates) > 0 {
		keys := make([]string, 0, len(ev.Rates))
		for k := range ev.Rates {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			kv(k, ev.Rates[k])
		}
	}
	if ev.Counts != nil {
		c := ev.Counts
		kv("counts", fmt.Sprintf("arr=%d,settled=%d,netted=%d,q2=%d,cost=%d",
			c.Arrivals, c.Settlements, c.Netted, c.Queue2Depth, c.CostAccrued))
	}
	return b.String()
}

// WriteText writes one formatted line per event.
func WriteText(w io.Writer, events []Event) error {
	bw := bufio.NewWriter(w)
	for _, ev := range events {
		if _, err := bw.WriteString(Format(ev)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encoding event %d: %w", events[i].Seq, err)
		}
	}
	return nil
}

// ReadJSONL decodes events written by WriteJSONL.
func ReadJSONL(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var out []Event
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", len(out), err)
		}
		out = append(out, ev)
	}
	return out, nil
}
