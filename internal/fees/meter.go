package fees

import "fmt"

// Meter counts gas against a fixed limit. Once a charge overflows the
// limit every later charge fails too.
type Meter struct {
	limit uint64
	used  uint64
	costs GasCosts
}

func (s Schedule) NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit, costs: s.Costs}
}

func (m *Meter) Charge(gas uint64) error {
	if m.used > m.limit || gas > m.limit-m.used {
		m.used = m.limit + 1
		return fmt.Errorf("%w: limit %d", ErrOutOfGas, m.limit)
	}
	m.used += gas
	return nil
}

func (m *Meter) Base() error { return m.Charge(m.costs.Base) }

func (m *Meter) LoadCells(n uint64) error { return m.Charge(n * m.costs.CellLoad) }

func (m *Meter) CreateCells(n uint64) error { return m.Charge(n * m.costs.CellCreate) }

func (m *Meter) Ecrecover() error { return m.Charge(m.costs.Ecrecover) }

func (m *Meter) SendMessage() error { return m.Charge(m.costs.MessageSend) }

// Used never reports more than the limit.
func (m *Meter) Used() uint64 {
	return min(m.used, m.limit)
}

func (m *Meter) Limit() uint64 { return m.limit }
