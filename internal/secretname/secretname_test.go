package secretname_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vaultmesh/seccache/internal/secretname"
)

func TestValidateCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "system", false},
		{"with_dash", "my-category", false},
		{"with_dot", "my.category", false},
		{"with_underscore", "my_category", false},
		{"empty", "", true},
		{"leading_dash", "-category", true},
		{"trailing_dash", "category-", true},
		{"leading_underscore", "_category", true},
		{"null_byte", "cat\x00egory", true},
		{"slash", "cat/egory", true},
		{"space", "cat egory", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := secretname.ValidateCategory(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "db-credentials", false},
		{"with_dot", "my.secret", false},
		{"underscore_rejected", "my_secret", true},
		{"empty", "", true},
		{"leading_dot", ".secret", true},
		{"trailing_dot", "secret.", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := secretname.ValidateSecret(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "password", false},
		{"underscore_allowed", "api_key", false},
		{"dash_allowed", "client-id", false},
		{"empty", "", true},
		{"leading_underscore", "_key", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := secretname.ValidateKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
