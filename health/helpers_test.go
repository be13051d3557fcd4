package health

import "testing"

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		build      func(component, message string) Status
		wantStatus string
		check      func(Status) bool
	}{
		{"healthy", NewHealthy, "healthy", Status.IsHealthy},
		{"unhealthy", NewUnhealthy, "unhealthy", Status.IsUnhealthy},
		{"degraded", NewDegraded, "degraded", Status.IsDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.build("cache", "some detail")

			if status.Component != "cache" {
				t.Errorf("Expected component cache, got %s", status.Component)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, status.Status)
			}
			if status.Message != "some detail" {
				t.Errorf("Expected message to carry through, got %s", status.Message)
			}
			if status.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
			if !tt.check(status) {
				t.Errorf("Expected predicate for %s to hold", tt.wantStatus)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name        string
		subStatuses []Status
		wantStatus  string
	}{
		{
			name:        "empty sub-statuses",
			subStatuses: []Status{},
			wantStatus:  "healthy",
		},
		{
			name: "all healthy",
			subStatuses: []Status{
				{Status: "healthy", Component: "cache"},
				{Status: "healthy", Component: "warmer"},
			},
			wantStatus: "healthy",
		},
		{
			name: "one unhealthy",
			subStatuses: []Status{
				{Status: "healthy", Component: "cache"},
				{Status: "unhealthy", Component: "warmer"},
			},
			wantStatus: "unhealthy",
		},
		{
			name: "one degraded no unhealthy",
			subStatuses: []Status{
				{Status: "healthy", Component: "cache"},
				{Status: "degraded", Component: "warmer"},
			},
			wantStatus: "degraded",
		},
		{
			name: "unhealthy wins over degraded",
			subStatuses: []Status{
				{Status: "degraded", Component: "cache"},
				{Status: "unhealthy", Component: "warmer"},
			},
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Aggregate("tiercache", tt.subStatuses)

			if result.Component != "tiercache" {
				t.Errorf("Expected component tiercache, got %s", result.Component)
			}
			if result.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, result.Status)
			}
			if len(result.SubStatuses) != len(tt.subStatuses) {
				t.Errorf("Expected %d sub-statuses, got %d", len(tt.subStatuses), len(result.SubStatuses))
			}
			if result.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestAggregate_CopiesSubStatuses(t *testing.T) {
	input := []Status{
		{Status: "healthy", Component: "cache"},
		{Status: "unhealthy", Component: "warmer"},
	}

	result := Aggregate("tiercache", input)

	result.SubStatuses[0].Component = "modified"
	if input[0].Component != "cache" {
		t.Error("Modifying result sub-statuses should not affect input")
	}
}
