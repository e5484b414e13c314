package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var migrationName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func main() {
	name := flag.String("name", "", "migration name, snake_case")
	dir := flag.String("dir", filepath.Join("internal", "db", "migrations"), "directory embedded by internal/db")
	flag.Parse()

	paths, err := create(*dir, *name, time.Now().UTC())
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("created %s and %s", paths[0], paths[1])
}

// create writes an empty up/down pair named after the UTC timestamp, which
// golang-migrate reads as the version.
func create(dir, name string, now time.Time) ([2]string, error) {
	if !migrationName.MatchString(name) {
		return [2]string{}, fmt.Errorf("migration name %q must be snake_case", name)
	}
	base := fmt.Sprintf("%s_%s", now.Format("20060102150405"), name)
	paths := [2]string{
		filepath.Join(dir, base+".up.sql"),
		filepath.Join(dir, base+".down.sql"),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return paths, fmt.Errorf("create migrations dir: %w", err)
	}
	bodies := [2]string{
		"-- " + name + ": apply\n",
		"-- " + name + ": revert\n",
	}
	for i, path := range paths {
		if err := writeNew(path, bodies[i]); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func writeNew(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("file already exists: %s", path)
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
