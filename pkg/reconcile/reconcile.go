// Package reconcile removes files which earlier batch jobs already processed
// from a pending work set.
//
// Job records follow grid-control's work directory layout:
//
//	<workdir>/jobs/job_<N>.txt           key="value" lines, with a status line
//	<workdir>/output/job_<N>/gc.stdout   the job's log, with "export FILE_NAMES=..."
package reconcile

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/opst/anawrap/pkg/dbs"
	"github.com/opst/anawrap/pkg/nickname"
)

// ForDBS returns the work directory of a grid-control project for its
// datasets file: "<dir of dbs>/workdir".
func ForDBS(dbsPath string) string {
	return filepath.Join(filepath.Dir(dbsPath), "workdir")
}

// JobRecord is what is known about one batch job.
type JobRecord struct {
	// Name is the base name of the record without extension, as "job_3".
	Name string

	Succeeded bool

	// Files consumed by the job. Only read for succeeded jobs.
	Files []string
}

// Scan reads job records under workdir.
//
// Unreadable or malformed records are logged and skipped. A missing workdir
// yields no records.
func Scan(workdir string, l *log.Logger) []JobRecord {
	paths, err := filepath.Glob(filepath.Join(workdir, "jobs", "job_*.txt"))
	if err != nil {
		l.Printf("scanning %s: %s", workdir, err)
		return nil
	}
	slices.Sort(paths)

	records := []JobRecord{}
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".txt")
		ok, err := succeeded(p, l)
		if err != nil {
			l.Printf("job record %s is not readable: %s", p, err)
			continue
		}
		rec := JobRecord{Name: name, Succeeded: ok}
		if ok {
			stdout := filepath.Join(workdir, "output", name, "gc.stdout")
			files, err := consumedFiles(stdout)
			if err != nil {
				l.Printf("job %s succeeded, but its log is not usable: %s", name, err)
				continue
			}
			rec.Files = files
		}
		records = append(records, rec)
	}
	return records
}

func succeeded(path string, l *log.Logger) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.Contains(line, "=") {
			l.Printf("%s: malformed line %q", path, line)
			continue
		}
		if strings.Contains(line, "status") && strings.Contains(line, "SUCCESS") {
			return true, nil
		}
	}
	return false, sc.Err()
}

func consumedFiles(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "export FILE_NAMES") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed FILE_NAMES line: %q", line)
		}
		value = strings.NewReplacer(`\`, "", `"`, "").Replace(strings.TrimSpace(value))
		if value == "" {
			return nil, fmt.Errorf("FILE_NAMES is empty")
		}
		return strings.Split(value, ", "), nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no FILE_NAMES in %s", path)
}

// Filter removes files consumed by succeeded jobs under workdir from groups.
//
// A job's nickname is the first nickname of groups whose output pattern
// matches the job's first file. groups is not modified.
func Filter(groups *dbs.Manifest, workdir string, l *log.Logger) *dbs.Manifest {
	filtered, _ := apply(groups, Scan(workdir, l), l)
	l.Printf("final dbs consists of %d files", filtered.Len())
	return filtered
}

// DBSFilter is Filter for a .dbs file, looking at its conventional workdir.
func DBSFilter(l *log.Logger) func(string, *dbs.Manifest) *dbs.Manifest {
	return func(dbsPath string, m *dbs.Manifest) *dbs.Manifest {
		return Filter(m, ForDBS(dbsPath), l)
	}
}

func apply(groups *dbs.Manifest, records []JobRecord, l *log.Logger) (*dbs.Manifest, map[string]int) {
	nicks := groups.Nicknames()
	consumed := map[string]map[string]int{}

	for _, rec := range records {
		if !rec.Succeeded || len(rec.Files) == 0 {
			continue
		}
		nick, ok := nickname.MatchFirst(nicks, rec.Files[0])
		if !ok {
			l.Printf("job %s: no nickname matches %s", rec.Name, rec.Files[0])
			continue
		}
		files, ok := consumed[nick]
		if !ok {
			files = map[string]int{}
			consumed[nick] = files
		}
		for _, f := range rec.Files {
			files[f] += 1
		}
	}
	return groups.Subtract(consumed)
}

// Summary describes the state of a batch project.
type Summary struct {
	Jobs      int
	Succeeded int

	// Processed counts files consumed by succeeded jobs per nickname.
	Processed map[string]int

	// Pending is what remains to be processed.
	Pending *dbs.Manifest
}

// Summarize reconciles groups with the job records under workdir.
func Summarize(groups *dbs.Manifest, workdir string, l *log.Logger) Summary {
	records := Scan(workdir, l)
	pending, processed := apply(groups, records, l)

	s := Summary{Jobs: len(records), Processed: processed, Pending: pending}
	for _, r := range records {
		if r.Succeeded {
			s.Succeeded += 1
		}
	}
	return s
}
