package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWireType(t *testing.T) {
	tests := []struct {
		entity EntityType
		op     Operation
		want   string
	}{
		{EntityStudy, OpCreated, "study_created"},
		{EntityPackage, OpUpdated, "package_updated"},
		{EntityPackageItem, OpDeleted, "package_item_deleted"},
		{EntityReportingEffortTracker, OpUpdated, "reporting_effort_tracker_updated"},
		{EntityComment, OpCreated, "comment_created"},
	}
	for _, tt := range tests {
		e := ChangeEvent{EntityType: tt.entity, Operation: tt.op}
		assert.Equal(t, tt.want, e.WireType())
	}
}

func TestSnapshotType(t *testing.T) {
	assert.Equal(t, "studies_update", SnapshotType(EntityStudy))
	assert.Equal(t, "packages_update", SnapshotType(EntityPackage))
	assert.Equal(t, "users_update", SnapshotType(EntityUser))
	assert.Equal(t, "text_elements_update", SnapshotType(EntityTextElement))
}

func TestAllEntityTypesHaveDistinctPlurals(t *testing.T) {
	seen := make(map[string]bool)
	for _, et := range AllEntityTypes {
		p := et.Plural()
		assert.NotEmpty(t, p)
		assert.False(t, seen[p], "duplicate plural %q", p)
		seen[p] = true
	}
}
