// Package rpc serves gRPC services whose messages are google.protobuf.Struct.
//
// Descriptors are assembled at startup and registered with the global proto
// registry, so server reflection (and therefore grpcurl) sees them like any
// compiled service.
package rpc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// UnaryFunc handles one call.
type UnaryFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Method binds a method name to its handler.
type Method struct {
	Name    string
	Handler UnaryFunc
}

// Service is a named set of unary methods.
type Service struct {
	Package string
	Name    string
	Methods []Method
}

// FullName returns the fully-qualified service name.
func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

func (s Service) fileName() string {
	return strings.ReplaceAll(s.Package, ".", "/") + "/" + strings.ToLower(s.Name) + ".proto"
}

var registerMu sync.Mutex

// Register publishes the service descriptor and serves it on server.
func Register(server *grpc.Server, svc Service) error {
	if err := registerDescriptor(svc); err != nil {
		return err
	}

	full := svc.FullName()
	desc := grpc.ServiceDesc{
		ServiceName: full,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    svc.fileName(),
	}
	for _, m := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler("/"+full+"/"+m.Name, m.Handler),
		})
	}
	server.RegisterService(&desc, svc)
	return nil
}

func registerDescriptor(svc Service) error {
	registerMu.Lock()
	defer registerMu.Unlock()

	name := svc.fileName()
	if _, err := protoregistry.GlobalFiles.FindFileByPath(name); err == nil {
		return nil
	}

	serviceProto := &descriptorpb.ServiceDescriptorProto{Name: proto.String(svc.Name)}
	for _, m := range svc.Methods {
		serviceProto.Method = append(serviceProto.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	fileProto := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(name),
		Package:    proto.String(svc.Package),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{serviceProto},
		Syntax:     proto.String("proto3"),
	}

	fd, err := protodesc.NewFile(fileProto, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor %s: %w", name, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor %s: %w", name, err)
	}
	return nil
}

func unaryHandler(fullMethod string, h UnaryFunc) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Invoke calls service/method on conn with a JSON-like request.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Reply converts a handler result into a Struct.
func Reply(values map[string]any) (*structpb.Struct, error) {
	if values == nil {
		return &structpb.Struct{}, nil
	}
	return structpb.NewStruct(values)
}
