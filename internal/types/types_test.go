package types

import (
	"fmt"
	"testing"
)

func TestPaginationNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input Pagination
		want  Pagination
	}{
		{name: "zero uses default", input: Pagination{}, want: Pagination{Limit: 24}},
		{name: "caps at max", input: Pagination{Limit: 1000, Offset: 5}, want: Pagination{Limit: 100, Offset: 5}},
		{name: "negative offset", input: Pagination{Limit: 10, Offset: -3}, want: Pagination{Limit: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.input.Normalize(24, 100)
			if got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEnumValidation(t *testing.T) {
	if !RoleMaker.Valid() || Role("owner").Valid() {
		t.Error("Role.Valid() misclassified a role")
	}
	if !StatusRejected.Valid() || ReviewStatus("archived").Valid() {
		t.Error("ReviewStatus.Valid() misclassified a status")
	}
	if !OwnershipWant.Valid() || OwnershipStatus("").Valid() {
		t.Error("OwnershipStatus.Valid() misclassified a status")
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewServiceError(CodeBadgeNotFound, "badge not found"))

	if !IsCode(err, CodeBadgeNotFound) {
		t.Error("IsCode() = false for wrapped service error")
	}
	if IsCode(err, CodeTeamNotFound) {
		t.Error("IsCode() = true for different code")
	}
	if IsCode(fmt.Errorf("plain"), CodeBadgeNotFound) {
		t.Error("IsCode() = true for plain error")
	}
}
