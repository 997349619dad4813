package schema

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"

	// Linked so user protos can import the constraint option files without
	// shipping them: the registry resolver serves these from GlobalFiles.
	_ "buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	_ "github.com/envoyproxy/protoc-gen-validate/validate"
)

// Load compiles every .proto file under protoDir and builds a Snapshot.
// Per-file compile failures are reported in the returned statuses and the
// file is skipped; Load only errors when the directory cannot be read or
// contains no proto files at all.
func Load(ctx context.Context, protoDir string, importPaths []string) (*Snapshot, []FileStatus, error) {
	paths, err := listProtoFiles(protoDir)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, ErrNoProtoFiles
	}

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(
			protocompile.CompositeResolver{
				&protocompile.SourceResolver{
					ImportPaths: append([]string{protoDir}, importPaths...),
				},
				registryResolver{},
			},
		),
	}

	snap := &Snapshot{
		files:    &protoregistry.Files{},
		messages: make(map[string]protoreflect.MessageDescriptor),
		enums:    make(map[string]protoreflect.EnumDescriptor),
		methods:  make(map[string]MethodSpec),
		byKey:    make(map[string][]MethodSpec),
		builtAt:  time.Now().UTC(),
	}

	statuses := make([]FileStatus, 0, len(paths))
	for _, path := range paths {
		compiled, err := compiler.Compile(ctx, path)
		if err != nil {
			statuses = append(statuses, FileStatus{File: path, Error: err.Error()})
			continue
		}
		for _, file := range compiled {
			snap.indexFile(file)
		}
		statuses = append(statuses, FileStatus{File: path, OK: true})
	}

	return snap, statuses, nil
}

// listProtoFiles returns the .proto files under dir as paths relative to dir,
// in sorted order so load results are deterministic.
func listProtoFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".proto") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// indexFile registers a compiled file and everything it transitively imports.
func (s *Snapshot) indexFile(file protoreflect.FileDescriptor) {
	if _, err := s.files.FindFileByPath(file.Path()); err == nil {
		return // already indexed via another compile unit
	}
	_ = s.files.RegisterFile(file)

	imports := file.Imports()
	for i := 0; i < imports.Len(); i++ {
		s.indexFile(imports.Get(i).FileDescriptor)
	}

	s.indexMessages(file.Messages())
	enums := file.Enums()
	for i := 0; i < enums.Len(); i++ {
		e := enums.Get(i)
		s.enums[string(e.FullName())] = e
	}

	services := file.Services()
	for i := 0; i < services.Len(); i++ {
		svc := services.Get(i)
		methods := svc.Methods()
		for j := 0; j < methods.Len(); j++ {
			m := methods.Get(j)
			spec := MethodSpec{
				FQMN:         string(svc.FullName()) + "/" + string(m.Name()),
				Service:      string(svc.FullName()),
				Method:       string(m.Name()),
				RuleKey:      ruleKey(string(svc.FullName()), string(m.Name())),
				Input:        m.Input(),
				Output:       m.Output(),
				ClientStream: m.IsStreamingClient(),
				ServerStream: m.IsStreamingServer(),
			}
			s.methods[spec.FQMN] = spec
			s.byKey[spec.RuleKey] = append(s.byKey[spec.RuleKey], spec)
		}
	}
}

// indexMessages records messages and their nested messages and enums.
func (s *Snapshot) indexMessages(msgs protoreflect.MessageDescriptors) {
	for i := 0; i < msgs.Len(); i++ {
		m := msgs.Get(i)
		if m.IsMapEntry() {
			continue
		}
		s.messages[string(m.FullName())] = m
		enums := m.Enums()
		for j := 0; j < enums.Len(); j++ {
			e := enums.Get(j)
			s.enums[string(e.FullName())] = e
		}
		s.indexMessages(m.Messages())
	}
}

// registryResolver serves imports from descriptors linked into the binary,
// covering validate.proto and buf/validate/validate.proto.
type registryResolver struct{}

func (registryResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
	if err != nil {
		return protocompile.SearchResult{}, err
	}
	return protocompile.SearchResult{Desc: fd}, nil
}
