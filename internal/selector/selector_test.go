package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

func newTestSelector() *Selector {
	return New(
		[]domain.TaskID{domain.TaskPayroll, domain.TaskActiveDirectory},
		map[domain.TaskID]string{
			domain.TaskPayroll:         "payroll_position",
			domain.TaskActiveDirectory: "position",
			domain.TaskCobis:           "cobis_role",
			domain.TaskSyscard:         "syscard_role",
			domain.TaskExtremeWeb:      "extreme_role",
		},
	)
}

func TestSelector_MandatoryAlwaysApplies(t *testing.T) {
	t.Parallel()
	s := newTestSelector()

	users := []domain.UserRecord{
		{ID: "1"},
		{ID: "2", Fields: map[string]string{"payroll_position": "N/A", "position": "n/a"}},
		{ID: "3", Fields: map[string]string{"payroll_position": "   "}},
	}

	for _, u := range users {
		assert.True(t, s.IsApplicable(u, domain.TaskPayroll), "user %s", u.ID)
		assert.True(t, s.IsApplicable(u, domain.TaskActiveDirectory), "user %s", u.ID)
	}
}

func TestSelector_ConditionalTasks(t *testing.T) {
	t.Parallel()
	s := newTestSelector()

	tests := []struct {
		name   string
		fields map[string]string
		want   bool
	}{
		{name: "nil fields", fields: nil, want: false},
		{name: "field absent", fields: map[string]string{"other": "x"}, want: false},
		{name: "empty", fields: map[string]string{"cobis_role": ""}, want: false},
		{name: "blank after trim", fields: map[string]string{"cobis_role": " \t "}, want: false},
		{name: "upper sentinel", fields: map[string]string{"cobis_role": "N/A"}, want: false},
		{name: "lower sentinel", fields: map[string]string{"cobis_role": "n/a"}, want: false},
		{name: "mixed sentinel padded", fields: map[string]string{"cobis_role": "  N/a  "}, want: false},
		{name: "role assigned", fields: map[string]string{"cobis_role": "CAJERO"}, want: true},
		{name: "role padded", fields: map[string]string{"cobis_role": "  Oficial "}, want: true},
		{name: "sentinel substring is a role", fields: map[string]string{"cobis_role": "N/A-2"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := domain.UserRecord{ID: "u", Fields: tt.fields}
			assert.Equal(t, tt.want, s.IsApplicable(u, domain.TaskCobis))
		})
	}
}

func TestSelector_UnmappedTaskIsSkipped(t *testing.T) {
	t.Parallel()
	s := newTestSelector()
	u := domain.UserRecord{ID: "u", Fields: map[string]string{"mailbox": "yes"}}

	assert.False(t, s.IsApplicable(u, domain.TaskID("mailbox")))
}

func TestSelector_DeterministicAndIsolated(t *testing.T) {
	t.Parallel()
	mandatory := []domain.TaskID{domain.TaskPayroll}
	fields := map[domain.TaskID]string{domain.TaskSyscard: "syscard_role"}
	s := New(mandatory, fields)

	// Mutating the inputs after construction must not change decisions.
	mandatory[0] = domain.TaskSyscard
	fields[domain.TaskSyscard] = "something_else"

	u := domain.UserRecord{ID: "u", Fields: map[string]string{"syscard_role": "N/A"}}
	for i := 0; i < 3; i++ {
		assert.False(t, s.IsApplicable(u, domain.TaskSyscard))
		assert.True(t, s.IsApplicable(u, domain.TaskPayroll))
	}
}

func TestSelector_Applicable(t *testing.T) {
	t.Parallel()
	s := newTestSelector()
	order := []domain.TaskID{domain.TaskPayroll, domain.TaskActiveDirectory, domain.TaskCobis, domain.TaskSyscard, domain.TaskExtremeWeb}

	u := domain.UserRecord{ID: "u", Fields: map[string]string{
		"cobis_role":   "n/a",
		"syscard_role": "Operador",
	}}

	assert.Equal(t,
		[]domain.TaskID{domain.TaskPayroll, domain.TaskActiveDirectory, domain.TaskSyscard},
		s.Applicable(u, order),
	)
}
