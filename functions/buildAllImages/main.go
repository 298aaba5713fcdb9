package main

import (
	"flag"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
)

const dockerfile = `FROM alpine:latest

WORKDIR /root/

COPY handler /root/

# Used when the function runs with APEXRT_TRANSPORT=grpc
EXPOSE 50052

CMD ["./handler"]
`

var (
	functionsDir = flag.String("dir", "functions/go", "directory holding one function per subdirectory")
	prefix       = flag.String("prefix", "apexrt-", "image name prefix")
)

// Builds a container image per function. Run from the module root; pass function names to
// build only those.
func main() {
	flag.Parse()

	functions, err := listFunctions(*functionsDir, flag.Args())
	if err != nil {
		log.Fatalf("Failed to list functions: %s", err)
	}

	for _, fn := range functions {
		buildImage(fn)
	}
}

// listFunctions returns the subdirectories of dir that hold a main.go, limited to only when set.
func listFunctions(dir string, only []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var functions []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), "main.go")); err != nil {
			continue
		}
		functions = append(functions, filepath.Join(dir, e.Name()))
	}
	return functions, nil
}

func buildImage(fnDir string) {
	fn := filepath.Base(fnDir)
	buildDir, err := os.MkdirTemp("", "apexrt-"+fn)
	if err != nil {
		log.Fatalf("Failed to create build directory: %s", err)
	}
	defer os.RemoveAll(buildDir)

	pkg := fnDir
	if !filepath.IsAbs(pkg) {
		pkg = "./" + pkg
	}

	log.Printf("Building %s executable...\n", fn)
	cmd := exec.Command("go", "build", "-o", filepath.Join(buildDir, "handler"), pkg)
	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Fatalf("Failed to build %s: %s\n%s", fn, err, output)
	}

	if err := os.WriteFile(filepath.Join(buildDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		log.Fatalf("Failed to write Dockerfile: %s", err)
	}

	log.Printf("Building Docker image for %s...\n", fn)
	cmd = exec.Command("docker", "build", "-t", *prefix+fn, buildDir)
	output, err = cmd.CombinedOutput()
	if err != nil {
		log.Fatalf("Failed to build Docker image for %s: %s\n%s", fn, err, output)
	}
	log.Printf("Built Docker image %s successfully.\n", *prefix+fn)
}
