package event

// Criticality is a declared importance tag. It is carried end to end but does not
// change delivery: every event is best-effort today.
type Criticality string

const (
	Normal   Criticality = "normal"
	Critical Criticality = "critical"
)

// Metadata travels with an envelope alongside its payload.
type Metadata struct {
	Criticality   Criticality `json:"criticality"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	CausationID   string      `json:"causation_id,omitempty"`
	UserID        string      `json:"user_id,omitempty"`
}

// Option configures envelope construction.
type Option func(*Metadata)

// WithCriticality tags the event. Unknown values fall back to Normal.
func WithCriticality(c Criticality) Option {
	return func(m *Metadata) {
		if c == Critical {
			m.Criticality = Critical
			return
		}
		m.Criticality = Normal
	}
}

// WithCorrelationID groups related events across contexts.
func WithCorrelationID(id string) Option {
	return func(m *Metadata) { m.CorrelationID = id }
}

// WithCausationID records the id of the event that directly caused this one.
func WithCausationID(id string) Option {
	return func(m *Metadata) { m.CausationID = id }
}

// WithUserID records the acting user.
func WithUserID(id string) Option {
	return func(m *Metadata) { m.UserID = id }
}

// CausedBy links to a parent event: causation is the parent id, correlation is inherited
// (or the parent id when the parent starts a new chain). Later options still override.
func CausedBy(parent *Envelope) Option {
	return func(m *Metadata) {
		m.CausationID = parent.ID()
		m.CorrelationID = parent.CorrelationID()
		if m.CorrelationID == "" {
			m.CorrelationID = parent.ID()
		}
	}
}
