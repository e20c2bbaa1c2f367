package broker

// TicketKind is the explicit discriminant of a composite order shape. Every
// site that submits, cancels or modifies a ticket switches exhaustively on
// it rather than inspecting leg pointers.
type TicketKind string

const (
	// SingleTicket is a plain order: one primary leg.
	SingleTicket TicketKind = "single"

	// CoverTicket pairs the primary with exactly one protective leg: a
	// stop if a stop-loss was given, else a limit for a take-profit.
	CoverTicket TicketKind = "cover"

	// BracketTicket pairs the primary with both protective legs,
	// one-cancels-other between them.
	BracketTicket TicketKind = "bracket"

	// ReverseTicket closes an opposite-side netting position and reopens
	// the excess units as a new position, in that order.
	ReverseTicket TicketKind = "reverse"
)

// Ticket owns every leg of one create call. Legs are reachable only through
// the table's lookup by id, so a mutation can never desynchronize a sibling
// held through an alias.
//
// Leg occupancy by kind:
//
//	single   Primary
//	cover    Primary, StopLeg or LimitLeg
//	bracket  Primary, StopLeg, LimitLeg
//	reverse  CloseLeg, OpenLeg, optional StopLeg/LimitLeg for the reopened
//	         remainder
//
// A protective-only ticket (built by ModifyPosition for a bare open
// position) carries a nil Primary with cover or bracket kind.
type Ticket struct {
	Kind     TicketKind
	ID       int64
	Primary  *Order
	CloseLeg *Order
	OpenLeg  *Order
	StopLeg  *Order
	LimitLeg *Order
}

// Legs returns every non-nil leg, execution order first.
func (t *Ticket) Legs() []*Order {
	legs := make([]*Order, 0, 4)
	for _, o := range []*Order{t.CloseLeg, t.OpenLeg, t.Primary, t.StopLeg, t.LimitLeg} {
		if o != nil {
			legs = append(legs, o)
		}
	}
	return legs
}

// entry returns the leg whose execution opens or flips exposure, nil for a
// protective-only ticket.
func (t *Ticket) entry() *Order {
	if t.Kind == ReverseTicket {
		return t.OpenLeg
	}
	return t.Primary
}

// protective returns the still-pending stop/limit legs.
func (t *Ticket) protective() []*Order {
	legs := make([]*Order, 0, 2)
	if t.StopLeg != nil && t.StopLeg.Status == Pending {
		legs = append(legs, t.StopLeg)
	}
	if t.LimitLeg != nil && t.LimitLeg.Status == Pending {
		legs = append(legs, t.LimitLeg)
	}
	return legs
}

// resolved reports whether no leg can still execute.
func (t *Ticket) resolved() bool {
	for _, o := range t.Legs() {
		if o.Status == Pending {
			return false
		}
	}
	return true
}
