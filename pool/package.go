package pool

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/wippyai/runtime-pool/errors"
)

// Package archive layout: module sources under modules/<name>.src, plus a
// single serialized payload entry produced by an earlier CreateMovable.
const (
	packagePayloadEntry = "payload"
	packageModulePrefix = "modules/"
	packageModuleSuffix = ".src"
)

// Package is a loadable artifact archive bound to the pool that opened it.
// Packages only ever touch instances through a session's scope.
type Package struct {
	pool *Pool
	zr   *zip.Reader
	name string
}

// LoadPackage opens a package archive by filesystem location. Loads of the
// same location are deduplicated: callers racing on one location share a
// single read, and later calls reuse the opened package.
func (p *Pool) LoadPackage(ctx context.Context, uri string) (*Package, error) {
	v, err, _ := p.packages.Do(uri, func() (any, error) {
		p.packageMu.Lock()
		cached, ok := p.loadedPackages[uri]
		p.packageMu.Unlock()
		if ok {
			return cached, nil
		}

		data, err := os.ReadFile(uri)
		if err != nil {
			return nil, errors.IO(errors.PhasePackage, "read package "+uri, err)
		}
		pkg, err := p.openPackage(bytes.NewReader(data), int64(len(data)), uri)
		if err != nil {
			return nil, err
		}

		p.packageMu.Lock()
		p.loadedPackages[uri] = pkg
		p.packageMu.Unlock()
		return pkg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Package), nil
}

// LoadPackageReader opens a package archive from a random-access byte
// reader.
func (p *Pool) LoadPackageReader(r io.ReaderAt, size int64) (*Package, error) {
	return p.openPackage(r, size, "reader")
}

func (p *Pool) openPackage(r io.ReaderAt, size int64, name string) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePackage, errors.KindInvalidData, err, "open archive "+name)
	}
	return &Package{pool: p, zr: zr, name: name}, nil
}

// Load registers the archive's module sources with the pool, then mints a
// movable for the payload entry and verifies it materializes. The returned
// handle belongs to the caller.
func (pkg *Package) Load(ctx context.Context) (*Movable, error) {
	var payload []byte
	for _, f := range pkg.zr.File {
		switch {
		case f.Name == packagePayloadEntry:
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			payload = data
		case strings.HasPrefix(f.Name, packageModulePrefix) && strings.HasSuffix(f.Name, packageModuleSuffix):
			src, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			modName := strings.TrimSuffix(strings.TrimPrefix(f.Name, packageModulePrefix), packageModuleSuffix)
			pkg.pool.RegisterModuleSource(modName, string(src))
		}
	}
	if payload == nil {
		return nil, errors.InvalidData(errors.PhasePackage, "archive "+pkg.name+" has no payload entry")
	}

	m := newMovable(pkg.pool, payload)

	s := pkg.pool.AcquireSession()
	defer s.Close()
	if _, err := s.FromMovable(ctx, m); err != nil {
		m.Close()
		return nil, errors.Wrap(errors.PhasePackage, errors.KindInvalidData, err, "load package "+pkg.name)
	}
	return m, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.IO(errors.PhasePackage, "open entry "+f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.IO(errors.PhasePackage, "read entry "+f.Name, err)
	}
	return data, nil
}
