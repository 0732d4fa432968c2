package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

// userFixture is the YAML shape accepted by ImportUsers
type userFixture struct {
	ID         string            `yaml:"id"`
	Title      string            `yaml:"title"`
	FirstNames string            `yaml:"first_names"`
	LastNames  string            `yaml:"last_names"`
	Status     string            `yaml:"status"`
	Fields     map[string]string `yaml:"fields"`
}

// ImportUsers reads a YAML list of users and upserts them in file order.
// It returns the number of users imported.
func (s *Store) ImportUsers(ctx context.Context, r io.Reader) (int, error) {
	var fixtures []userFixture
	if err := yaml.NewDecoder(r).Decode(&fixtures); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("decode users: %w", err)
	}

	users := make([]domain.UserRecord, 0, len(fixtures))
	for i, f := range fixtures {
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return 0, fmt.Errorf("user #%d: id is required", i+1)
		}
		status := domain.StatusApproved
		if f.Status != "" {
			parsed, ok := domain.ParseLifecycleStatus(f.Status)
			if !ok {
				return 0, fmt.Errorf("user %s: unknown status %q", id, f.Status)
			}
			status = parsed
		}
		users = append(users, domain.UserRecord{
			ID:         id,
			Title:      f.Title,
			FirstNames: f.FirstNames,
			LastNames:  f.LastNames,
			Status:     status,
			Fields:     f.Fields,
		})
	}

	for _, u := range users {
		if err := s.UpsertUser(ctx, u); err != nil {
			return 0, fmt.Errorf("store user %s: %w", u.ID, err)
		}
	}
	return len(users), nil
}
