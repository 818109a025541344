package storage

import (
	"context"
	"sync"

	"github.com/kumbuk/orchestrator/internal/models"
)

// ProfileStore looks up who a user is.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// Profile is the template handed out for unknown users.
type Profile struct {
	Role     string `mapstructure:"role"`
	Name     string `mapstructure:"name"`
	Location string `mapstructure:"location"`
}

// DefaultProfile is the demo identity every unknown user gets.
func DefaultProfile() Profile {
	return Profile{Role: models.RoleConsumer, Name: "Demo User", Location: "Colombo"}
}

// For returns the template as a profile for userID.
func (p Profile) For(userID string) *models.UserProfile {
	role := p.Role
	if role == "" {
		role = models.RoleConsumer
	}
	return &models.UserProfile{
		UserID:      userID,
		Role:        role,
		Name:        p.Name,
		Location:    p.Location,
		Preferences: map[string]interface{}{},
	}
}

// MemoryProfiles serves profiles from a map seeded at startup.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
	fallback Profile
}

// NewMemoryProfiles creates a store that answers fallback for unknown users.
func NewMemoryProfiles(fallback Profile, seed ...models.UserProfile) *MemoryProfiles {
	m := &MemoryProfiles{profiles: make(map[string]models.UserProfile, len(seed)), fallback: fallback}
	for _, p := range seed {
		m.profiles[p.UserID] = p
	}
	return m
}

func (m *MemoryProfiles) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	p, ok := m.profiles[userID]
	m.mu.RUnlock()
	if !ok {
		return m.fallback.For(userID), nil
	}
	if p.Role == "" {
		p.Role = models.RoleConsumer
	}
	return &p, nil
}

// Put registers or replaces a profile.
func (m *MemoryProfiles) Put(p models.UserProfile) {
	m.mu.Lock()
	m.profiles[p.UserID] = p
	m.mu.Unlock()
}
