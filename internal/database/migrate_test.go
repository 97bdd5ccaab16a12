package database

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
)

// expectedRoles must match auth.Role values. The users.role ENUM rejects
// anything else with "Data truncated for column 'role'".
var expectedRoles = []string{"admin", "editor", "author", "subscriber"}

// migrationsDir returns the absolute path to db/migrations/ from the project root.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	// thisFile is internal/database/migrate_test.go, project root is two dirs up.
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")
	dir := filepath.Join(projectRoot, "db", "migrations")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations directory not found at %s: %v", dir, err)
	}
	return dir
}

// TestMigrations_UpDownPairs ensures every .up.sql has a matching .down.sql.
func TestMigrations_UpDownPairs(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}
	if len(upFiles) == 0 {
		t.Fatal("no migration files found")
	}

	for _, up := range upFiles {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := os.Stat(down); err != nil {
			t.Errorf("missing down migration for %s", filepath.Base(up))
		}
	}
}

// TestMigrations_SequentialVersions catches gaps and duplicate version
// numbers, which golang-migrate reports only at startup.
func TestMigrations_SequentialVersions(t *testing.T) {
	dir := migrationsDir(t)
	upFiles, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}

	var versions []int
	for _, f := range upFiles {
		prefix, _, found := strings.Cut(filepath.Base(f), "_")
		if !found {
			t.Errorf("%s: missing version prefix", filepath.Base(f))
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			t.Errorf("%s: version prefix is not numeric", filepath.Base(f))
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("expected version %d, found %d (gap or duplicate)", i+1, v)
		}
	}
}

// TestMigrations_RoleEnum checks that the users.role ENUM accepts every
// role the application assigns.
func TestMigrations_RoleEnum(t *testing.T) {
	dir := migrationsDir(t)
	data, err := os.ReadFile(filepath.Join(dir, "000001_create_users.up.sql"))
	if err != nil {
		t.Fatalf("reading users migration: %v", err)
	}

	enumPattern := regexp.MustCompile(`role\s+ENUM\(([^)]*)\)`)
	match := enumPattern.FindStringSubmatch(string(data))
	if match == nil {
		t.Fatal("users.role ENUM definition not found")
	}

	for _, role := range expectedRoles {
		if !strings.Contains(match[1], "'"+role+"'") {
			t.Errorf("users.role ENUM is missing %q", role)
		}
	}
}

func TestIsDuplicateEntry(t *testing.T) {
	if !IsDuplicateEntry(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})) {
		t.Error("expected wrapped 1062 to be a duplicate entry")
	}
	if IsDuplicateEntry(&mysql.MySQLError{Number: 1452}) {
		t.Error("expected foreign key error not to match")
	}
	if IsDuplicateEntry(nil) {
		t.Error("expected nil not to match")
	}
}
