package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nexuslang/internal/compiler"
	"nexuslang/internal/container"
)

// usageError is an argv problem, reported with the I/O exit code.
type usageError string

func (e usageError) Error() string { return string(e) }

// ArtifactExt is the file extension of compiled binaries.
const ArtifactExt = ".nxb"

// Compile builds one or more sources into binary artifacts without
// executing them. With several sources, -o names an output directory
// and compilation fans out across them; every broken source is
// reported, not just the first.
func Compile(args []string, logger *zap.Logger) error {
	sources, output, err := parseCompileArgs(args)
	if err != nil {
		return err
	}

	outputIsDir := len(sources) > 1
	if outputIsDir {
		if err := os.MkdirAll(output, 0o755); err != nil {
			return pkgerrors.Wrapf(err, "create output directory %s", output)
		}
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []error
	)
	g.SetLimit(4)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			target := output
			if outputIsDir {
				base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
				target = filepath.Join(output, base+ArtifactExt)
			}
			if err := compileOne(src, target, logger); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
				fmt.Fprintln(os.Stderr, err.Error())
			}
			return nil
		})
	}
	g.Wait()

	if len(failures) > 0 {
		// Return the first failure; the rest already went to stderr.
		return failures[0]
	}
	return nil
}

func compileOne(src, target string, logger *zap.Logger) error {
	text, err := os.ReadFile(src)
	if err != nil {
		return pkgerrors.Wrapf(err, "read %s", src)
	}

	unit, cerr := compileSource(string(text), src)
	if cerr != nil {
		return cerr
	}

	// created_at is the artifact's one non-deterministic field; the
	// round-trip invariant explicitly excludes it.
	if unit.Metadata == nil {
		unit.Metadata = map[string]string{}
	}
	unit.Metadata["created_at"] = time.Now().UTC().Format(time.RFC3339)
	unit.Metadata["compiler_version"] = compiler.Version
	unit.Metadata["build_id"] = uuid.NewString()

	data, serr := container.Serialize(unit)
	if serr != nil {
		return serr
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return pkgerrors.Wrapf(err, "write %s", target)
	}

	fmt.Printf("%s -> %s (%s)\n", src, target, humanize.Bytes(uint64(len(data))))
	logger.Debug("artifact written",
		zap.String("source", src),
		zap.String("artifact", target),
		zap.Int("bytes", len(data)))
	return nil
}

func parseCompileArgs(args []string) (sources []string, output string, err error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "--output":
			if i+1 >= len(args) {
				return nil, "", usageError("compile: -o needs a value")
			}
			i++
			output = args[i]
		default:
			sources = append(sources, args[i])
		}
	}
	if len(sources) == 0 {
		return nil, "", usageError("usage: nexus compile <source.nx>... -o <artifact|dir>")
	}
	if output == "" {
		if len(sources) == 1 {
			base := strings.TrimSuffix(sources[0], filepath.Ext(sources[0]))
			output = base + ArtifactExt
		} else {
			output = "."
		}
	}
	return sources, output, nil
}
