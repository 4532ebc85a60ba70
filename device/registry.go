package device

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// MaxLinks is the number of links a device can serve at once.
	MaxLinks = 8

	DefaultAddress uint64 = 2
)

// Registry owns the address of this device and the links it has open.
//
// Registration is safe for concurrent use, each registered Device is still
// owned by a single goroutine.
type Registry struct {
	mu      sync.RWMutex
	address uint64
	links   []*Device

	template Options

	log *zap.Logger
}

// NewRegistry creates a registry whose links are created from template.
// The template's Peer, Role and Address are replaced on registration.
func NewRegistry(address uint64, template Options) *Registry {
	log := template.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Registry{
		address:  address,
		links:    make([]*Device, 0, MaxLinks),
		template: template,
		log:      log,
	}
}

func (r *Registry) SelfAddress() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.address
}

// SetAddress changes the address every link answers to.
func (r *Registry) SetAddress(address uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("Changing device address", zap.Uint64("from", r.address), zap.Uint64("to", address))
	r.address = address
}

// SetHandlers replaces the template's handlers for links registered from
// now on. Handlers commonly need the registry themselves, see Simulator.
func (r *Registry) SetHandlers(firmware FirmwareHandler, commands CommandHandler, telemetry TelemetrySource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.template.Firmware = firmware
	r.template.Commands = commands
	r.template.Telemetry = telemetry
}

// RegisterGroundControl opens a link facing the ground control station at
// peer.
func (r *Registry) RegisterGroundControl(peer uint64) (*Device, error) {
	return r.register(peer, GroundControl)
}

// RegisterUav opens a link facing the vehicle at peer.
func (r *Registry) RegisterUav(peer uint64) (*Device, error) {
	return r.register(peer, Uav)
}

func (r *Registry) register(peer uint64, role Role) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.links) == MaxLinks {
		return nil, ErrNoDescriptorsLeft
	}

	for _, link := range r.links {
		if link.peer == peer {
			return nil, fmt.Errorf("Failed to register %s link to %d: %w", role, peer, ErrDuplicatePeer)
		}
	}

	options := r.template
	options.Peer = peer
	options.Role = role
	options.Address = r

	link, err := New(options)
	if err != nil {
		return nil, err
	}

	r.links = append(r.links, link)
	r.log.Info("Registered link", zap.Uint64("peer", peer), zap.Stringer("role", role))

	return link, nil
}

// Remove closes the link to peer, freeing its slot.
func (r *Registry) Remove(peer uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, link := range r.links {
		if link.peer == peer {
			r.links = append(r.links[:i], r.links[i+1:]...)
			r.log.Info("Removed link", zap.Uint64("peer", peer))
			return nil
		}
	}

	return fmt.Errorf("Failed to remove %d: %w", peer, ErrUnknownPeer)
}

// Get returns the link to peer.
func (r *Registry) Get(peer uint64) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, link := range r.links {
		if link.peer == peer {
			return link, nil
		}
	}

	return nil, fmt.Errorf("Failed to find %d: %w", peer, ErrUnknownPeer)
}

// Len is the number of registered links.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.links)
}
