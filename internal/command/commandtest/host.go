package commandtest

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
)

// DumpOutput is what a simulated dump tool prints for the given tool name.
func DumpOutput(tool string) string {
	return fmt.Sprintf("-- %s dump\ncreate table t (id int);\n", tool)
}

// SimulateHost registers handlers that act out the host and container tools
// used by backups against the real filesystem: gzip, cp and chmod on the
// host, dump/restore tools under `docker exec`, and tar or rm in a
// `docker run` helper whose bind mounts are mapped back to host paths.
func SimulateHost(e *Executor) *Executor {
	e.Handle(Program("gzip"), simulateGzip)
	e.Handle(Program("cp"), simulateCopy)
	e.Handle(Program("chmod"), simulateChmod)
	e.Handle(dockerSubcommand("exec"), simulateExec)
	e.Handle(dockerSubcommand("run"), simulateRun)
	return e
}

func dockerSubcommand(sub string) func(args []string) bool {
	return func(args []string) bool {
		return len(args) > 1 && args[0] == "docker" && args[1] == sub
	}
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, err)
	return 1
}

func simulateGzip(args []string, _ []byte, _, stderr io.Writer) int {
	path := args[len(args)-1]
	decompress := false
	for _, a := range args[1 : len(args)-1] {
		if a == "--decompress" || a == "-d" {
			decompress = true
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(stderr, err)
	}

	var out []byte
	var target string
	if decompress {
		if !strings.HasSuffix(path, ".gz") {
			return fail(stderr, fmt.Errorf("gzip: %s: unknown suffix", path))
		}
		r, err := pgzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fail(stderr, err)
		}
		out, err = io.ReadAll(r)
		if err != nil {
			return fail(stderr, err)
		}
		target = strings.TrimSuffix(path, ".gz")
	} else {
		out, err = gzipBytes(data)
		if err != nil {
			return fail(stderr, err)
		}
		target = path + ".gz"
	}

	if err := os.WriteFile(target, out, 0644); err != nil {
		return fail(stderr, err)
	}
	if err := os.Remove(path); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := pgzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func simulateCopy(args []string, _ []byte, _, stderr io.Writer) int {
	if len(args) != 3 {
		return fail(stderr, fmt.Errorf("cp: expected two operands"))
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fail(stderr, err)
	}
	if err := os.WriteFile(args[2], data, 0644); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func simulateChmod(args []string, _ []byte, _, stderr io.Writer) int {
	path := args[len(args)-1]
	info, err := os.Stat(path)
	if err != nil {
		return fail(stderr, err)
	}
	if err := os.Chmod(path, info.Mode().Perm()|0004); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// innerLine returns the argument given to `sh -c`.
func innerLine(args []string) string {
	for i := 0; i+2 < len(args); i++ {
		if args[i] == "sh" && args[i+1] == "-c" {
			return args[i+2]
		}
	}
	return ""
}

func simulateExec(args []string, stdin []byte, stdout, stderr io.Writer) int {
	fields := strings.Fields(innerLine(args))
	if len(fields) == 0 {
		return fail(stderr, fmt.Errorf("docker exec: no command"))
	}

	switch tool := fields[0]; tool {
	case "mysqldump", "pg_dump", "pg_dumpall":
		io.WriteString(stdout, DumpOutput(tool))
	case "mysql", "psql":
		if len(stdin) == 0 {
			return fail(stderr, fmt.Errorf("%s: no input", tool))
		}
	}
	return 0
}

// mounts maps container paths to host paths from -v options.
func mounts(args []string) map[string]string {
	m := make(map[string]string)
	for i := 0; i+1 < len(args); i++ {
		if args[i] != "-v" {
			continue
		}
		host, container, ok := strings.Cut(args[i+1], ":")
		if ok {
			m[container] = host
		}
	}
	return m
}

func hostPath(args []string, fields []string) (string, bool) {
	for container, host := range mounts(args) {
		for _, f := range fields {
			if rest, ok := strings.CutPrefix(f, container+"/"); ok {
				return filepath.Join(host, rest), true
			}
		}
	}
	return "", false
}

func simulateRun(args []string, _ []byte, _, stderr io.Writer) int {
	inner := innerLine(args)
	fields := strings.Fields(inner)
	path, mapped := hostPath(args, fields)

	switch {
	case strings.Contains(inner, "tar -c"):
		if !mapped {
			return fail(stderr, fmt.Errorf("tar: output is not on a mounted volume"))
		}
		data, err := tarBytes(tarSource(fields))
		if err != nil {
			return fail(stderr, err)
		}
		if strings.HasSuffix(path, ".gz") {
			if data, err = gzipBytes(data); err != nil {
				return fail(stderr, err)
			}
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fail(stderr, err)
		}
	case strings.Contains(inner, "tar -x"):
		if !mapped {
			return fail(stderr, fmt.Errorf("tar: archive is not on a mounted volume"))
		}
		if _, err := os.Stat(path); err != nil {
			return fail(stderr, err)
		}
	case strings.HasPrefix(inner, "rm "):
		if mapped {
			os.Remove(path)
		}
	}
	return 0
}

// tarSource finds the archived directory in `tar -cf <out> <dir>` or
// `tar -czf <out> <dir>`.
func tarSource(fields []string) string {
	for i, f := range fields {
		if (f == "-cf" || f == "-czf") && i+2 < len(fields) {
			return fields[i+2]
		}
	}
	return "data"
}

// tarBytes builds an archive holding one file under dir.
func tarBytes(dir string) ([]byte, error) {
	dir = strings.TrimPrefix(dir, "/")
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("simulated contents\n")
	if err := tw.WriteHeader(&tar.Header{Name: dir + "/data.txt", Mode: 0644, Size: int64(len(body))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(body); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
