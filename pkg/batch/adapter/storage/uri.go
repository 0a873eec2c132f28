package storage

import (
	"fmt"
	"path"
	"strings"
)

// Location is a parsed "<scheme>://<bucket>/<path>" object store URI.
// Path never starts with "/" and never ends with one.
type Location struct {
	Scheme string
	Bucket string
	Path   string
}

// ParseURI parses an object store URI such as "gs://bucket/dir/file". The bucket is mandatory;
// the path may be empty.
func ParseURI(uri string) (Location, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return Location{}, fmt.Errorf("invalid storage URI '%s': missing scheme", uri)
	}
	bucket, p, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid storage URI '%s': missing bucket", uri)
	}
	return Location{Scheme: scheme, Bucket: bucket, Path: strings.Trim(p, "/")}, nil
}

// String formats the location back into a URI.
func (l Location) String() string {
	if l.Path == "" {
		return fmt.Sprintf("%s://%s", l.Scheme, l.Bucket)
	}
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Path)
}

// Join returns the location of elem below l.
func (l Location) Join(elem ...string) Location {
	parts := append([]string{l.Path}, elem...)
	l.Path = strings.Trim(path.Join(parts...), "/")
	return l
}

// Prefix returns Path with a trailing "/", the form used to list the children of a directory.
// The bucket root yields "".
func (l Location) Prefix() string {
	if l.Path == "" {
		return ""
	}
	return l.Path + "/"
}

// Base returns the last element of Path.
func (l Location) Base() string {
	return path.Base(l.Path)
}

// Dir returns the parent location.
func (l Location) Dir() Location {
	d := path.Dir(l.Path)
	if d == "." || d == "/" {
		d = ""
	}
	l.Path = d
	return l
}

// ObjectURI formats bucket and objectName with scheme.
func ObjectURI(scheme, bucket, objectName string) string {
	return Location{Scheme: scheme, Bucket: bucket, Path: strings.Trim(objectName, "/")}.String()
}
