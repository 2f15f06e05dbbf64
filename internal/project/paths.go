package project

import (
	"path"
	"path/filepath"
	"strings"

	"basegraph.app/localizer/internal/model"
)

// Package names are source directories relative to the src folder with "/"
// replaced by ".". Files directly in the src folder belong to the root package.

// RootPackage names the package formed by the files directly in the src folder.
func RootPackage(p model.Project) string {
	src := cleanSrc(p.SrcFolder)
	if src == "" {
		return p.Name
	}
	return path.Base(src)
}

// PackageOf returns the package owning a file given relative to the src folder.
func PackageOf(p model.Project, srcRel string) string {
	dir := path.Dir(filepath.ToSlash(srcRel))
	if dir == "." || dir == "/" {
		return RootPackage(p)
	}
	return strings.ReplaceAll(dir, "/", ".")
}

// PackageDir returns the slash-separated directory of pkg relative to the src
// folder. The root package maps to "" and does not include sub-packages.
func PackageDir(p model.Project, pkg string) (dir string, recursive bool) {
	if pkg == RootPackage(p) {
		return "", false
	}
	return strings.ReplaceAll(pkg, ".", "/"), true
}

// SrcRel converts a repository-relative path into one relative to the src
// folder. ok is false when the path lies outside it.
func SrcRel(p model.Project, repoRel string) (string, bool) {
	repoRel = path.Clean(filepath.ToSlash(repoRel))
	src := cleanSrc(p.SrcFolder)
	if src == "" {
		return repoRel, !strings.HasPrefix(repoRel, "../")
	}
	if !strings.HasPrefix(repoRel, src+"/") {
		return "", false
	}
	return strings.TrimPrefix(repoRel, src+"/"), true
}

// FilePath builds the repository-relative path of file inside pkg. A file named
// after the last segment of its package is the package module itself, so
// pkg "a.b" with file "b.py" maps to "a/b.py".
func FilePath(p model.Project, pkg, file string) string {
	src := cleanSrc(p.SrcFolder)
	file = path.Base(filepath.ToSlash(strings.TrimSpace(file)))

	dir, _ := PackageDir(p, pkg)
	if dir == "" {
		return path.Join(src, file)
	}

	pkgPath := path.Join(src, dir)
	ext := path.Ext(file)
	if path.Base(dir) == strings.TrimSuffix(file, ext) {
		return pkgPath + ext
	}
	return path.Join(pkgPath, file)
}

func cleanSrc(src string) string {
	src = path.Clean(filepath.ToSlash(strings.TrimSpace(src)))
	if src == "." || src == "/" {
		return ""
	}
	return strings.TrimPrefix(src, "./")
}
