package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for the upload flow. Handlers map these onto the
// wire envelope codes.
var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrEmptyUpload     = errors.New("upload is empty")
	ErrAuthRequired    = errors.New("authentication required")
	ErrForbidden       = errors.New("not allowed to publish this package")
)

// ValidationError reports why an uploaded archive was rejected. The
// message is safe to return to the client verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is an archive rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	packageNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	versionRe     = regexp.MustCompile(`^\d+\.\d+\.\d+(?:-[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*)?(?:\+[0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*)?$`)
)

// ValidPackageName reports whether name is a legal package name:
// lowercase letters, digits and underscores, starting with a letter.
func ValidPackageName(name string) bool {
	return packageNameRe.MatchString(name)
}

// ValidVersion reports whether v follows the semver grammar, including
// optional prerelease and build suffixes.
func ValidVersion(v string) bool {
	return versionRe.MatchString(v)
}

// Manifest is the parsed pubspec of a validated archive.
type Manifest struct {
	Name    string
	Version string
	Pubspec map[string]interface{}
	SHA256  string
}

// ValidateArchive checks that data is a gzipped tarball containing a
// parseable pubspec.yaml with a legal name and version. When the tar
// holds several pubspec.yaml entries the one at the shallowest path
// wins, matching how pub lays out archives with an optional top-level
// directory.
func ValidateArchive(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, invalidf("archive is not gzip compressed")
	}
	defer gz.Close()

	var (
		pubspec   []byte
		bestDepth = -1
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalidf("archive is not a valid tarball")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if path.Base(name) != "pubspec.yaml" {
			continue
		}
		depth := strings.Count(name, "/")
		if bestDepth != -1 && depth >= bestDepth {
			continue
		}
		buf, err := io.ReadAll(io.LimitReader(tr, 1<<20))
		if err != nil {
			return nil, invalidf("failed to read pubspec.yaml from archive")
		}
		pubspec = buf
		bestDepth = depth
	}
	if pubspec == nil {
		return nil, invalidf("archive does not contain a pubspec.yaml")
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(pubspec, &doc); err != nil {
		return nil, invalidf("pubspec.yaml is not valid YAML")
	}

	name, _ := doc["name"].(string)
	if name == "" {
		return nil, invalidf("pubspec.yaml is missing the name field")
	}
	if !ValidPackageName(name) {
		return nil, invalidf("invalid package name %q", name)
	}

	version := pubspecVersion(doc["version"])
	if version == "" {
		return nil, invalidf("pubspec.yaml is missing the version field")
	}
	if !ValidVersion(version) {
		return nil, invalidf("invalid version %q", version)
	}

	sum := sha256.Sum256(data)
	return &Manifest{
		Name:    name,
		Version: version,
		Pubspec: doc,
		SHA256:  hex.EncodeToString(sum[:]),
	}, nil
}

// pubspecVersion renders the version field as a string. YAML parses
// bare numbers like 1.0 as floats, which are never legal versions, but
// returning their text form keeps the error message useful.
func pubspecVersion(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%v", x)
	case int:
		return fmt.Sprintf("%d", x)
	default:
		return ""
	}
}
