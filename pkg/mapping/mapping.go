// Package mapping implements the Mapping entity: a routing rule composing
// sources, destinations, ports, and protocols within a cluster.
package mapping

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Protocol is one of the wire protocols a Mapping can carry.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// PortRange is either a single port (Low == High) or an inclusive range.
type PortRange struct {
	Low  int
	High int
}

// Expand returns the individual ports in the range if it's finite and small
// (≤128 ports); otherwise ok is false and the caller should pass the range
// through as a range expression instead.
func (p PortRange) Expand() (ports []int, ok bool) {
	n := p.High - p.Low + 1
	if n <= 0 || n > 128 {
		return nil, false
	}
	ports = make([]int, 0, n)
	for port := p.Low; port <= p.High; port++ {
		ports = append(ports, port)
	}
	return ports, true
}

// String renders the range as "low" or "low-high".
func (p PortRange) String() string {
	if p.Low == p.High {
		return fmt.Sprintf("%d", p.Low)
	}
	return fmt.Sprintf("%d-%d", p.Low, p.High)
}

// Mapping is a routing rule.
type Mapping struct {
	ID          int64
	ClusterID   uuid.UUID
	Name        string
	Sources     []int64 // service IDs, ordered
	Destinations []int64 // service IDs, ordered
	Ports       []PortRange
	Protocols   []Protocol
	AuthRequired bool
	Priority    int // lower = higher precedence
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Less orders mappings by ascending priority, then by ID to break ties, so
// callers always observe a single total order for overlapping matches.
func Less(a, b Mapping) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}
