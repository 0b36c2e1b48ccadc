package cleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-agent-hub/internal/dal/daltest"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/models"
)

func TestCleaner_Clean(t *testing.T) {
	db := daltest.Open(t)
	dao.InitDAO(db)

	now := time.Now()
	old := now.Add(-8 * 24 * time.Hour)
	jobs := []*models.VerificationJob{
		{UserID: "u", AgentID: "a1", TxHash: "0x1", Status: models.JobDone, NextRunAt: old, UpdatedAt: old},
		{UserID: "u", AgentID: "a2", TxHash: "0x2", Status: models.JobFailed, NextRunAt: old, UpdatedAt: old},
		{UserID: "u", AgentID: "a3", TxHash: "0x3", Status: models.JobDone, NextRunAt: now, UpdatedAt: now},
		{UserID: "u", AgentID: "a4", TxHash: "0x4", Status: models.JobPending, NextRunAt: old, UpdatedAt: old},
		{UserID: "u", AgentID: "a5", TxHash: "0x5", Status: models.JobRunning, NextRunAt: old, UpdatedAt: old},
	}
	require.NoError(t, db.Create(&jobs).Error)

	NewCleaner().clean(now)

	var left []*models.VerificationJob
	require.NoError(t, db.Order("agent_id").Find(&left).Error)
	require.Len(t, left, 3)
	assert.Equal(t, "a3", left[0].AgentID)
	assert.Equal(t, "a4", left[1].AgentID)
	assert.Equal(t, "a5", left[2].AgentID)
	assert.Equal(t, models.JobPending, left[2].Status)
}

func TestCleaner_StartStop(t *testing.T) {
	dao.InitDAO(daltest.Open(t))

	c := NewCleaner()
	c.Start()
	c.Stop()
}
