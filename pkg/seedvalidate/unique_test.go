// SPDX-License-Identifier: Apache-2.0

package seedvalidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueValidatorFlagsDuplicateSingleColumn(t *testing.T) {
	seedData := SeedData{
		"users": {
			{"id": "1", "email": "a@example.com"},
			{"id": "2", "email": "a@example.com"},
		},
	}
	schema := SchemaContext{
		"users": {Columns: map[string]ColumnInfo{"email": {Unique: true}}},
	}

	violations := (UniqueValidator{}).Validate(seedData, schema)
	require.Len(t, violations, 1)
	assert.Equal(t, "DUPLICATE_UNIQUE_VALUE", violations[0].ViolationType)
	assert.Equal(t, 2, violations[0].DuplicateCount)
}

func TestUniqueValidatorAllowsMultipleNulls(t *testing.T) {
	seedData := SeedData{
		"users": {
			{"id": "1", "email": nil},
			{"id": "2", "email": nil},
		},
	}
	schema := SchemaContext{
		"users": {Columns: map[string]ColumnInfo{"email": {Unique: true}}},
	}

	violations := (UniqueValidator{}).Validate(seedData, schema)
	assert.Empty(t, violations)
}

func TestUniqueValidatorFlagsDuplicateCompositeKey(t *testing.T) {
	seedData := SeedData{
		"memberships": {
			{"org_id": "org-1", "user_id": "u-1"},
			{"org_id": "org-1", "user_id": "u-1"},
		},
	}
	schema := SchemaContext{
		"memberships": {UniqueConstraints: []UniqueConstraint{{Columns: []string{"org_id", "user_id"}}}},
	}

	violations := (UniqueValidator{}).Validate(seedData, schema)
	require.Len(t, violations, 1)
	assert.Equal(t, "DUPLICATE_COMPOSITE_KEY", violations[0].ViolationType)
}

func TestUniqueValidatorSkipsCompositeKeyWithNullMember(t *testing.T) {
	seedData := SeedData{
		"memberships": {
			{"org_id": "org-1", "user_id": nil},
			{"org_id": "org-1", "user_id": nil},
		},
	}
	schema := SchemaContext{
		"memberships": {UniqueConstraints: []UniqueConstraint{{Columns: []string{"org_id", "user_id"}}}},
	}

	violations := (UniqueValidator{}).Validate(seedData, schema)
	assert.Empty(t, violations)
}
