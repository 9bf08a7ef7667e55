package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENTITLEMENTS_CONFIG_DIR", dir)
	t.Setenv("ENTITLEMENTS_LOG_LEVEL", "error")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedAccounts(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "titan.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		created_at DATETIME,
		subscription_status VARCHAR(50) DEFAULT 'free',
		subscription_end DATETIME
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (id, created_at, subscription_status, subscription_end) VALUES
		(1, '2024-01-01 00:00:00', 'free', NULL),
		(2, '2024-01-01 00:00:00', 'weekly', '2024-01-08 00:00:00'),
		(3, '2023-01-01 00:00:00', 'lifetime', NULL)`)
	require.NoError(t, err)
	return path
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2024-01-01"
	GitCommit = "abcdef"
	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "entitlements 1.2.3")
	assert.Contains(t, output, "Built: 2024-01-01")
	assert.Contains(t, output, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	output, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, output, "Built:")
	assert.NotContains(t, output, "Commit:")
}

func decodeCheck(t *testing.T, output string) checkResult {
	t.Helper()
	var result checkResult
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	return result
}

func TestCheckCmd_AdHocAccount(t *testing.T) {
	isolateEnv(t)

	output, err := execute(t, "check", "--created-at", "2024-01-01T00:00:00Z", "--at", "2024-01-02T06:00:00Z")
	require.NoError(t, err)

	result := decodeCheck(t, output)
	assert.Equal(t, entitlements.DefaultPolicyVersion, result.PolicyVersion)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, entitlements.CapabilityAIAssist, result.Decisions[0].Capability)
	assert.Equal(t, entitlements.ReasonWithinTrial, result.Decisions[0].Reason)
	assert.Equal(t, entitlements.ReasonNoGrant, result.Decisions[1].Reason)
}

func TestCheckCmd_AdHocSubscriptionBoundary(t *testing.T) {
	isolateEnv(t)

	output, err := execute(t, "check",
		"--tier", "monthly",
		"--created-at", "2023-01-01",
		"--expires-at", "2024-02-01 00:00:00",
		"--capability", "email",
		"--at", "2024-02-01T00:00:00Z")
	require.NoError(t, err)

	result := decodeCheck(t, output)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, entitlements.CapabilityMessagingOutreach, result.Decisions[0].Capability)
	assert.False(t, result.Decisions[0].Allowed, "expiry equal to now is expired")
}

func TestCheckCmd_StoredAccount(t *testing.T) {
	dir := isolateEnv(t)
	db := seedAccounts(t, dir)

	output, err := execute(t, "check", "--db", db, "--account-id", "2", "--capability", "ai", "--at", "2024-01-05T00:00:00Z")
	require.NoError(t, err)
	result := decodeCheck(t, output)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, entitlements.ReasonActiveSubscription, result.Decisions[0].Reason)

	output, err = execute(t, "check", "--db", db, "--account-id", "99", "--capability", "ai")
	require.NoError(t, err)
	assert.Equal(t, entitlements.ReasonNoAccount, decodeCheck(t, output).Decisions[0].Reason)
}

func TestCheckCmd_Errors(t *testing.T) {
	isolateEnv(t)

	tests := [][]string{
		{"check"},
		{"check", "--created-at", "yesterday"},
		{"check", "--created-at", "2024-01-01", "--tier", "platinum"},
		{"check", "--created-at", "2024-01-01", "--at", "soon"},
		{"check", "--created-at", "2024-01-01", "--policy", "missing.yaml"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}

const testPolicy = `version: "2024-07"
capabilities:
  - name: messaging-outreach
    trial_duration: 72h
  - name: lead-export
    tier_gated_only: true
`

func TestPolicyCmds(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	output, err := execute(t, "policy", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, output, "valid (version 2024-07, 2 capabilities)")

	output, err = execute(t, "policy", "show", path)
	require.NoError(t, err)
	assert.Contains(t, output, "trial_duration: 72h0m0s")
	assert.Contains(t, output, "tier_gated_only: true")

	output, err = execute(t, "policy", "show")
	require.NoError(t, err)
	assert.Contains(t, output, "version: builtin")
	assert.Contains(t, output, "name: ai-assist")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("capabilities:\n  - name: x\n"), 0o600))
	_, err = execute(t, "policy", "validate", broken)
	assert.Error(t, err)
}

func TestCheckCmd_UsesPolicyFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicy), 0o600))

	output, err := execute(t, "check", "--policy", path, "--created-at", "2024-01-01", "--at", "2024-01-03T00:00:00Z")
	require.NoError(t, err)

	result := decodeCheck(t, output)
	assert.Equal(t, "2024-07", result.PolicyVersion)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, entitlements.Capability("lead-export"), result.Decisions[0].Capability)
	assert.False(t, result.Decisions[0].Allowed)
	assert.True(t, result.Decisions[1].Allowed)
}

func TestAuditCmd(t *testing.T) {
	dir := isolateEnv(t)
	db := seedAccounts(t, dir)

	output, err := execute(t, "audit", "--db", db, "--at", "2024-01-05T00:00:00Z", "--format", "json")
	require.NoError(t, err)

	var report struct {
		RunID string `json:"run_id"`
		Rows  []struct {
			AccountID string `json:"account_id"`
			Reason    string `json:"reason"`
		} `json:"rows"`
		Summary struct {
			Accounts int `json:"accounts"`
			Allowed  int `json:"allowed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Summary.Accounts)
	assert.Equal(t, 4, report.Summary.Allowed)
	require.Len(t, report.Rows, 6)
	assert.Equal(t, "no_grant", report.Rows[0].Reason)

	out := filepath.Join(dir, "audit.pdf")
	_, err = execute(t, "audit", "--db", db, "--format", "pdf", "--output", out, "--capability", "email")
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	_, err = execute(t, "audit", "--db", db, "--format", "xlsx")
	assert.Error(t, err)
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("at", "2024-01-01T05:00:00+05:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, got.Location())

	got, err = parseTimeFlag("at", "2024-01-01 12:30:00")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Hour())

	_, err = parseTimeFlag("at", "noon")
	assert.ErrorContains(t, err, "--at")
}
