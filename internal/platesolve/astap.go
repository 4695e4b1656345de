package platesolve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-ini/ini"

	"skycat/internal/header"
)

// defaultASTAPOptions are search radius, star database downsampling and
// image downsampling, in the order ASTAP documents them.
var defaultASTAPOptions = []string{"-r", "180", "-s", "100", "-z", "2"}

// ASTAPSolver runs the ASTAP command line solver on a temporary FITS copy
// of the image. ASTAP writes the solution into the copy and leaves an
// .ini report next to it.
type ASTAPSolver struct {
	Exe         string
	FallbackFOV float64
	ExtraArgs   []string
	Timeout     time.Duration
	// TempDir is the parent for per-solve work directories; "" uses the
	// system default.
	TempDir string
}

// NewASTAPSolver returns a solver for the given executable.
func NewASTAPSolver(exe string, fallbackFOV float64) *ASTAPSolver {
	return &ASTAPSolver{Exe: exe, FallbackFOV: fallbackFOV}
}

// Solve solves req and returns the allow-listed WCS cards.
func (s *ASTAPSolver) Solve(ctx context.Context, req Request) (*header.Header, error) {
	if s.Exe == "" {
		return nil, &SolverError{Message: "ASTAP executable not configured"}
	}
	format, ok := header.DetectFormat(req.Path)
	if !ok || format != header.FormatFITS {
		return nil, &SolverError{Message: fmt.Sprintf("unsupported image %s: only FITS files can be solved", req.Path)}
	}

	workDir, err := os.MkdirTemp(s.TempDir, "skycat-solve-*")
	if err != nil {
		return nil, fmt.Errorf("creating solver work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	image, err := s.copyImage(req.Path, workDir)
	if err != nil {
		return nil, err
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	hint := BuildHint(req.Header, req.Known, s.FallbackFOV)
	args := []string{"-f", image, "-update", "-platesolve"}
	args = append(args, defaultASTAPOptions...)
	args = append(args, hint.Args()...)
	args = append(args, s.ExtraArgs...)
	args = append(args, "-log")

	cmd := exec.CommandContext(ctx, s.Exe, args...)
	cmd.Dir = workDir
	// ASTAP's exit code does not distinguish failures; the files it
	// leaves behind do.
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &SolverError{Message: fmt.Sprintf("running %s: %v: %s", s.Exe, err, strings.TrimSpace(string(out)))}
		}
	}

	base := strings.TrimSuffix(image, filepath.Ext(image))
	if _, err := os.Stat(base + ".wcs"); errors.Is(err, os.ErrNotExist) {
		if _, err := os.Stat(base + ".ini"); err == nil {
			return nil, reportFailure(base, req.Path)
		}
	}

	solved, err := readHeaderFile(image)
	if err != nil {
		return nil, fmt.Errorf("reading solved image: %w", err)
	}
	if v, _ := solved.Get("PLTSOLVD"); v != true {
		return nil, &SolverFailure{Message: "failed to solve image " + req.Path}
	}
	return ExtractWCS(solved), nil
}

// copyImage writes a decompressed copy of src into dir with a .fit
// extension.
func (s *ASTAPSolver) copyImage(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer in.Close()

	rc, err := header.OpenDecompressed(src, in)
	if err != nil {
		return "", &SolverError{Message: fmt.Sprintf("decompressing %s: %v", src, err)}
	}
	defer rc.Close()

	name := strings.TrimSuffix(filepath.Base(src), header.CompressionSuffix(src))
	dst := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name))+".fit")
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating solver copy: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", fmt.Errorf("writing solver copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing solver copy: %w", err)
	}
	return dst, nil
}

// reportFailure turns ASTAP's .ini report into an error. An ERROR entry
// means ASTAP rejected the job; otherwise the search did not converge
// and the .log lines are attached.
func reportFailure(base, image string) error {
	report, err := ini.Load(base + ".ini")
	if err != nil {
		return &SolverError{Message: fmt.Sprintf("reading solver report: %v", err)}
	}
	if key := report.Section(ini.DefaultSection).Key("ERROR"); key.String() != "" {
		return &SolverError{Message: key.String()}
	}
	return &SolverFailure{Message: "failed to solve image " + image, Log: readLines(base + ".log")}
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func readHeaderFile(path string) (*header.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := header.ReadFITSHeader(f)
	if err != nil {
		return nil, err
	}
	return header.ParseHeader(data), nil
}

var _ Solver = (*ASTAPSolver)(nil)
