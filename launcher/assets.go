package launcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
)

// LayoutKind reports which layout an asset directory was found in.
type LayoutKind int

const (
	// LayoutUnresolved accompanies a resolution error.
	LayoutUnresolved LayoutKind = iota
	// LayoutExplicit means the asset directory was configured directly.
	LayoutExplicit
	// LayoutPackaged means the assets sit next to the origin.
	LayoutPackaged
	// LayoutDevelopment means the assets sit in the source tree one level up.
	LayoutDevelopment
)

func (k LayoutKind) String() string {
	switch k {
	case LayoutUnresolved:
		return "Unresolved"
	case LayoutExplicit:
		return "Explicit"
	case LayoutPackaged:
		return "Packaged"
	case LayoutDevelopment:
		return "Development"
	default:
		return "InvalidLayout"
	}
}

// ResolveAssetDir finds the asset directory for a marker whose code lives
// at origin. It tries <dir(origin)>/<AssetSubdir> first, then
// <dir(dir(origin))>/<DevAssetPath>. The returned path is absolute.
func ResolveAssetDir(origin string, layout Layout) (string, LayoutKind, error) {
	abs, err := filepath.Abs(origin)
	if err != nil {
		return "", LayoutUnresolved, fmt.Errorf("failed to resolve origin %s: %w", origin, err)
	}
	parent := filepath.Dir(abs)

	packaged := filepath.Join(parent, filepath.FromSlash(layout.AssetSubdir))
	if isDir(packaged) {
		return packaged, LayoutPackaged, nil
	}

	development := filepath.Join(filepath.Dir(parent), filepath.FromSlash(layout.DevAssetPath))
	if isDir(development) {
		return development, LayoutDevelopment, nil
	}

	return "", LayoutUnresolved, fmt.Errorf("no asset directory at %s or %s: %w", packaged, development, fs.ErrNotExist)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SourceOrigin locates the source file declaring marker's methods using
// the runtime's function metadata. It fails for marker types that declare
// no methods of their own (promoted methods only yield generated wrappers)
// and for binaries built with -trimpath, whose source paths are relative.
func SourceOrigin(marker reflect.Type) (string, error) {
	if marker == nil {
		return "", fmt.Errorf("marker type is nil")
	}
	candidates := []reflect.Type{marker}
	switch marker.Kind() {
	case reflect.Interface:
		return "", fmt.Errorf("cannot locate interface type %s", marker)
	case reflect.Pointer:
	default:
		candidates = append(candidates, reflect.PointerTo(marker))
	}

	for _, t := range candidates {
		for i := 0; i < t.NumMethod(); i++ {
			fn := runtime.FuncForPC(t.Method(i).Func.Pointer())
			if fn == nil {
				continue
			}
			file, _ := fn.FileLine(fn.Entry())
			// Wrappers generated for value receivers and promoted methods
			// have no source file
			if file == "" || file == "<autogenerated>" {
				continue
			}
			return absoluteSource(marker, file)
		}
	}
	return "", fmt.Errorf("cannot locate type %s: it declares no methods of its own", marker)
}

func absoluteSource(marker reflect.Type, file string) (string, error) {
	if !filepath.IsAbs(filepath.FromSlash(file)) {
		return "", fmt.Errorf("cannot locate type %s: source path %s is not absolute (built with -trimpath?)", marker, file)
	}
	return file, nil
}

// ExecutableOrigin anchors asset resolution at the running executable,
// whatever the marker.
func ExecutableOrigin(reflect.Type) (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

// defaultOrigins are tried in order when Config.OriginOf is unset: the
// source tree for development runs, then the executable for shipped builds.
var defaultOrigins = []OriginFunc{SourceOrigin, ExecutableOrigin}

// resolveAssets applies the locator precedence: AssetDir, then
// MarkerType, then the type of Marker.
func (c Config) resolveAssets() (string, LayoutKind, error) {
	if c.AssetDir != "" {
		abs, err := filepath.Abs(c.AssetDir)
		if err != nil {
			return "", LayoutUnresolved, err
		}
		return abs, LayoutExplicit, nil
	}

	marker := c.MarkerType
	if marker == nil {
		marker = reflect.TypeOf(c.Marker)
	}
	origins := defaultOrigins
	if c.OriginOf != nil {
		origins = []OriginFunc{c.OriginOf}
	}

	var errs []error
	for _, originOf := range origins {
		origin, err := originOf(marker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dir, kind, err := ResolveAssetDir(origin, c.Layout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return dir, kind, nil
	}
	return "", LayoutUnresolved, fmt.Errorf("failed to locate assets for marker %s: %w", marker, errors.Join(errs...))
}
