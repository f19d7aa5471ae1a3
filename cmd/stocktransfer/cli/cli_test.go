package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocktransfer/internal/auth"
	"github.com/odyssey-erp/stocktransfer/jobs"
)

func TestJobsCommandTrigger(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.JobsCommand(context.Background(), JobsOptions{
		Action: "trigger",
		Name:   jobs.TaskLedgerReconcile,
		Batch:  500,
		Stdout: stdout,
		Stderr: stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "enqueued ledger:reconcile")

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestJobsCommandRejectsUnknownInput(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	ctx := context.Background()

	stderr := new(bytes.Buffer)
	assert.Equal(t, 1, cli.JobsCommand(ctx, JobsOptions{Action: "trigger", Name: "report:build", Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.Contains(t, stderr.String(), "unsupported job report:build")

	stderr.Reset()
	assert.Equal(t, 2, cli.JobsCommand(ctx, JobsOptions{Action: "trigger", Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.Equal(t, 2, cli.JobsCommand(ctx, JobsOptions{Action: "purge", Stdout: new(bytes.Buffer), Stderr: stderr}))
	assert.False(t, mr.Exists("asynq:{default}:pending"))
}

func TestTokenCommand(t *testing.T) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := TokenCommand(TokenOptions{Secret: "s3cret", CompanyID: 1, UserID: 7, TTL: time.Hour, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 0, code, stderr.String())

	claims, err := auth.ValidateToken("s3cret", strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.EqualValues(t, 1, claims.CompanyID)
	assert.EqualValues(t, 7, claims.UserID)

	assert.Equal(t, 2, TokenCommand(TokenOptions{Secret: "s3cret", UserID: 7, Stdout: stdout, Stderr: stderr}))
	assert.Equal(t, 1, TokenCommand(TokenOptions{CompanyID: 1, UserID: 7, Stdout: stdout, Stderr: stderr}))
}
