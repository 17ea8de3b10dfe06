package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jerome-ceccato/andre/andre"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// runInit runs `andre init` against dbPath, with stdin for the username
// prompt and passwords returned by the password reader in order
func runInit(t *testing.T, dbPath string, stdin string, passwords ...string) (string, error) {
	t.Helper()
	resetConfig(t)
	require.NoError(t, os.Setenv("ANDRE_DATABASE_TYPE", "sqlite"))
	require.NoError(t, os.Setenv("ANDRE_DATABASE", dbPath))

	passwordIndex := 0
	customPasswordReader = func() ([]byte, error) {
		if passwordIndex >= len(passwords) {
			return nil, errors.New("no more passwords")
		}
		password := passwords[passwordIndex]
		passwordIndex++
		return []byte(password), nil
	}

	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(
		func() {
			customPasswordReader = nil
			rootCmd.SetIn(nil)
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
		},
	)

	envFile := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(envFile, []byte("\n"), 0o600))
	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "init"})
	err := rootCmd.Execute()
	return out.String(), err
}

func openTestDB(t *testing.T, dbPath string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dbPath))
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	return db
}

func TestInitCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	output, err := runInit(t, dbPath, "testadmin\n", "testpassword", "testpassword")
	require.NoError(t, err)
	t.Logf("output: %s", output)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")

	assert.Contains(t, output, "Admin credentials are not set. Let's set them up.")
	assert.Contains(t, output, "Enter admin username:")
	assert.Contains(t, output, "Enter admin password:")
	assert.Contains(t, output, "Confirm admin password:")
	assert.Contains(t, output, "Admin credentials set successfully")
	assert.Contains(t, output, "Initialization complete")

	db := openTestDB(t, dbPath)

	var config andre.RuntimeConfig
	require.NoError(t, db.First(&config).Error)
	assert.Equal(t, "testadmin", config.AdminUsername)
	assert.NotEqual(t, "testpassword", config.AdminPassword)

	valid, err := andre.VerifyPassword(config.AdminPassword, "testpassword")
	require.NoError(t, err)
	assert.True(t, valid)

	mg := db.Migrator()
	assert.True(t, mg.HasTable(&andre.User{}))
	assert.True(t, mg.HasTable(&andre.Project{}))
	assert.True(t, mg.HasTable(&andre.UserBadge{}))
	assert.True(t, mg.HasTable(&andre.CommandLog{}))
	assert.True(t, mg.HasTable(&andre.RuntimeConfig{}))
}

func TestInitCommand_PasswordMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	output, err := runInit(t, dbPath, "testadmin\n", "first", "second", "", "", "third", "third")
	require.NoError(t, err)

	assert.Contains(t, output, "Passwords do not match. Please try again.")
	assert.Contains(t, output, "Password can't be empty. Please try again.")
	assert.Contains(t, output, "Admin credentials set successfully")

	var config andre.RuntimeConfig
	require.NoError(t, openTestDB(t, dbPath).First(&config).Error)
	valid, err := andre.VerifyPassword(config.AdminPassword, "third")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestInitCommand_AlreadySet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	_, err := runInit(t, dbPath, "testadmin\n", "testpassword", "testpassword")
	require.NoError(t, err)

	output, err := runInit(t, dbPath, "")
	require.NoError(t, err)
	assert.Contains(t, output, "Admin credentials are already set.")
	assert.NotContains(t, output, "Enter admin username:")
}
