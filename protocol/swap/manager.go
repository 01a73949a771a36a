// Package swap provides the management layer used by swapd for tracking
// current and past swaps.
package swap

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errNoSwapWithID = errors.New("unable to find swap with given ID")

// Status represents the high-level status of a swap.
type Status byte

const (
	Ongoing Status = iota //nolint
	Success
	Refunded
	Punished
	Aborted
)

// String ...
func (s Status) String() string {
	switch s {
	case Ongoing:
		return "ongoing"
	case Success:
		return "success"
	case Refunded:
		return "refunded"
	case Punished:
		return "punished"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsOngoing ...
func (s Status) IsOngoing() bool {
	return s == Ongoing
}

// Info contains the details of an ongoing or past swap.
type Info struct {
	ID        uuid.UUID  `json:"id"`
	Provides  string     `json:"provides"`
	StateTag  string     `json:"stateTag"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	// statusCh emits every state tag the swap passes through; rpc
	// subscribers stream it to clients.
	statusCh chan string
}

// NewInfo ...
func NewInfo(id uuid.UUID, provides string) *Info {
	return &Info{
		ID:        id,
		Provides:  provides,
		Status:    Ongoing,
		StartTime: time.Now(),
		statusCh:  make(chan string, 16),
	}
}

// SetStateTag records the tag of the state the swap just entered.
func (i *Info) SetStateTag(tag string) {
	i.StateTag = tag
	select {
	case i.statusCh <- tag:
	default:
	}
}

// StatusCh returns the channel of state tags.
func (i *Info) StatusCh() <-chan string {
	return i.statusCh
}

// Manager tracks current and past swaps.
type Manager struct {
	sync.RWMutex
	ongoing map[uuid.UUID]*Info
	past    map[uuid.UUID]*Info
}

// NewManager ...
func NewManager() *Manager {
	return &Manager{
		ongoing: make(map[uuid.UUID]*Info),
		past:    make(map[uuid.UUID]*Info),
	}
}

// AddSwap adds the given swap *Info to the Manager.
func (m *Manager) AddSwap(info *Info) error {
	m.Lock()
	defer m.Unlock()

	if _, has := m.ongoing[info.ID]; has {
		return errors.New("swap with given ID already ongoing")
	}

	m.ongoing[info.ID] = info
	return nil
}

// GetOngoingSwap returns the ongoing swap's *Info, if there is one.
func (m *Manager) GetOngoingSwap(id uuid.UUID) (*Info, error) {
	m.RLock()
	defer m.RUnlock()
	s, has := m.ongoing[id]
	if !has {
		return nil, errNoSwapWithID
	}
	return s, nil
}

// GetOngoingSwaps returns all ongoing swaps.
func (m *Manager) GetOngoingSwaps() []*Info {
	m.RLock()
	defer m.RUnlock()
	swaps := make([]*Info, 0, len(m.ongoing))
	for _, s := range m.ongoing {
		swaps = append(swaps, s)
	}
	return swaps
}

// GetPastSwap returns a past swap's *Info, if there is one.
func (m *Manager) GetPastSwap(id uuid.UUID) (*Info, error) {
	m.RLock()
	defer m.RUnlock()
	s, has := m.past[id]
	if !has {
		return nil, errNoSwapWithID
	}
	return s, nil
}

// CompleteOngoingSwap marks the given ongoing swap as completed with the
// given final status.
func (m *Manager) CompleteOngoingSwap(id uuid.UUID, status Status) error {
	m.Lock()
	defer m.Unlock()

	s, has := m.ongoing[id]
	if !has {
		return errNoSwapWithID
	}

	now := time.Now()
	s.EndTime = &now
	s.Status = status

	m.past[id] = s
	delete(m.ongoing, id)
	return nil
}

// HasOngoingSwap returns true if the given ID is an ongoing swap.
func (m *Manager) HasOngoingSwap(id uuid.UUID) bool {
	m.RLock()
	defer m.RUnlock()
	_, has := m.ongoing[id]
	return has
}
