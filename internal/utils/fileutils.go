// Package utils provides file system utilities and design file handling
// functions shared by all modules: file type detection, content hashing,
// and path helpers used during import scanning and storage.
package utils

import (
	"path/filepath"
	"strings"
)

// ModelExtensions contains the 3D model formats the import pipeline
// accepts. The normalized file type for these is the extension itself.
var ModelExtensions = map[string]string{
	".stl":  "stl",
	".obj":  "obj",
	".3mf":  "3mf",
	".gltf": "gltf",
	".glb":  "glb",
	".ply":  "ply",
}

// ImageExtensions contains reference photo formats. All of them
// normalize to the single "image" file type.
var ImageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
}

// SkippedExtensions contains file extensions that are never imported:
// slicer outputs, editor leftovers, and metadata sidecars that show up
// inside shared design folders.
var SkippedExtensions = map[string]bool{
	// Slicer outputs and profiles
	".gcode":       true,
	".bgcode":      true,
	".curaprofile": true,

	// Metadata sidecars and configuration
	".ini":  true,
	".cfg":  true,
	".json": true,
	".xml":  true,
	".yml":  true,
	".yaml": true,
	".txt":  true,
	".nfo":  true,
	".log":  true,
	".db":   true,

	// Temporary, partial, and backup files
	".tmp":        true,
	".temp":       true,
	".part":       true,
	".crdownload": true,
	".download":   true,
	".bak":        true,
	".old":        true,
	".orig":       true,
	".swp":        true,
	".lock":       true,

	// Link files
	".url": true,
	".lnk": true,
}

// NormalizeFileType maps a filename onto the pipeline's file type
// vocabulary: model extensions keep their name, images collapse to
// "image", PDFs to "pdf". Returns "" for everything else.
func NormalizeFileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := ModelExtensions[ext]; ok {
		return t
	}
	if ImageExtensions[ext] {
		return "image"
	}
	if ext == ".pdf" {
		return "pdf"
	}
	return ""
}

// IsImportableFile reports whether a file should become an import item
func IsImportableFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if SkippedExtensions[ext] {
		return false
	}
	return NormalizeFileType(path) != ""
}

// IsModelType reports whether a normalized file type is a 3D model.
// Model files front their bundles and get geometry analysis.
func IsModelType(fileType string) bool {
	for _, t := range ModelExtensions {
		if t == fileType {
			return true
		}
	}
	return false
}

// IsHiddenName reports whether a file or directory name is hidden and
// should be skipped during scanning.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// FileStem returns the base filename without its extension, the key
// used for grouping variants of the same design (dragon.stl,
// dragon.jpg -> "dragon").
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// GetContentType returns the MIME content type used when storing or
// serving a design file. Unknown types fall back to octet-stream.
func GetContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".stl":
		return "model/stl"
	case ".obj":
		return "model/obj"
	case ".3mf":
		return "model/3mf"
	case ".gltf":
		return "model/gltf+json"
	case ".glb":
		return "model/gltf-binary"
	case ".ply":
		return "application/octet-stream"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
