// Package matchservice exposes the matching engine as the gRPC service
// forge.match.v1.MatchService. Messages are google.protobuf.Struct values carrying the
// JSON shapes defined in this package, so no generated code is needed.
package matchservice

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/matching"
	"github.com/anvil-platform/forge/internal/resolver"
	"github.com/anvil-platform/forge/internal/supplytree"
)

const ServiceName = "forge.match.v1.MatchService"

// MatchServiceServer is the server API for the match service.
type MatchServiceServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluateAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Build(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTree(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(MatchServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MatchServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(MatchServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the match service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Evaluate", MatchServiceServer.Evaluate),
		unaryHandler("EvaluateAll", MatchServiceServer.EvaluateAll),
		unaryHandler("Build", MatchServiceServer.Build),
		unaryHandler("GetTree", MatchServiceServer.GetTree),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forge/match/v1/match.proto",
}

// RegisterMatchServiceServer registers srv on s.
func RegisterMatchServiceServer(s grpc.ServiceRegistrar, srv MatchServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Backend is the engine surface the service needs.
type Backend interface {
	Domain(name string) (domain.Domain, error)
	Evaluate(ctx context.Context, domainName string, req matching.Requirement, capability matching.Capability) (matching.Result, error)
	Resolve(ctx context.Context, in resolver.Input) (resolver.Plan, error)
}

// ReportBackend is implemented by backends that expose cross-product evaluation.
type ReportBackend interface {
	EvaluateAll(ctx context.Context, d domain.Domain, reqs []matching.Requirement, caps []matching.Capability) (matching.Report, error)
}

// Server implements MatchServiceServer on a Backend.
type Server struct {
	backend Backend
	report  ReportBackend
	store   supplytree.Store
	log     logr.Logger
}

var _ MatchServiceServer = (*Server)(nil)

// NewServer returns a server. report may be nil, in which case EvaluateAll is
// unimplemented.
func NewServer(backend Backend, report ReportBackend, log logr.Logger) *Server {
	return &Server{backend: backend, report: report, log: log}
}

// WithStore makes Build keep every returned tree in st and report its reference.
func (s *Server) WithStore(st supplytree.Store) *Server {
	s.store = st
	return s
}

func (s *Server) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req EvaluateRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.backend.Evaluate(ctx, req.Domain, req.Requirement, req.Capability)
	if err != nil {
		return nil, s.toStatus("Evaluate", err)
	}
	return encodeResponse(EvaluateResponse{Result: res})
}

func (s *Server) EvaluateAll(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.report == nil {
		return nil, status.Error(codes.Unimplemented, "EvaluateAll is not enabled")
	}
	var req EvaluateAllRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, err := s.backend.Domain(req.Domain)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	report, err := s.report.EvaluateAll(ctx, d, req.Requirements, req.Capabilities)
	if err != nil {
		return nil, s.toStatus("EvaluateAll", err)
	}
	return encodeResponse(EvaluateAllResponse{Report: report})
}

func (s *Server) Build(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BuildRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, err := s.backend.Domain(req.Domain)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	plan, err := s.backend.Resolve(ctx, toInput(d, req))
	if err != nil {
		return nil, s.toStatus("Build", err)
	}
	resp := fromPlan(plan)
	if s.store != nil {
		for i := range resp.Solutions {
			ref, err := s.store.Put(ctx, resp.Solutions[i].Tree)
			if err != nil {
				return nil, s.toStatus("Build", err)
			}
			resp.Solutions[i].StoreRef = ref
		}
	}
	return encodeResponse(resp)
}

func (s *Server) GetTree(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unimplemented, "tree store is not enabled")
	}
	var req GetTreeRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tree, err := s.store.Get(ctx, req.Ref)
	if err != nil {
		return nil, s.toStatus("GetTree", err)
	}
	return encodeResponse(GetTreeResponse{Tree: tree})
}

func toInput(d domain.Domain, req BuildRequest) resolver.Input {
	project := resolver.Project{
		Name:               req.Project,
		Domain:             d,
		GlobalRequirements: req.GlobalRequirements,
		DefaultContext:     req.DefaultContext,
	}
	for _, r := range req.Requirements {
		rr := resolver.Requirement{
			Name:       r.Name,
			Optional:   r.Optional,
			After:      r.After,
			Parameters: r.Parameters,
			Produces:   r.Produces,
		}
		if r.Validation != nil {
			rr.Validation = *r.Validation
		}
		project.Requirements = append(project.Requirements, rr)
	}

	facilities := make([]resolver.Facility, 0, len(req.Facilities))
	for _, f := range req.Facilities {
		facilities = append(facilities, resolver.Facility{Name: f.Name, Capabilities: f.Capabilities, Parameters: f.Parameters})
	}
	return resolver.Input{
		Project:           project,
		Facilities:        facilities,
		ValidationContext: req.ValidationContext,
		MaxSolutions:      req.MaxSolutions,
	}
}

func fromPlan(plan resolver.Plan) BuildResponse {
	out := BuildResponse{Solutions: make([]SolutionMessage, 0, len(plan.Solutions))}
	for _, sol := range plan.Solutions {
		out.Solutions = append(out.Solutions, SolutionMessage{Tree: sol.Tree, Outcome: sol.Outcome})
	}
	for _, u := range plan.Diagnostics.UnresolvedRequired {
		out.UnresolvedRequired = append(out.UnresolvedRequired, UnresolvedMessage(u))
	}
	for _, u := range plan.Diagnostics.UnresolvedOptional {
		out.UnresolvedOptional = append(out.UnresolvedOptional, UnresolvedMessage(u))
	}
	for _, r := range plan.Diagnostics.Rejected {
		out.Rejected = append(out.Rejected, RejectionMessage(r))
	}
	return out
}

func encodeResponse(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, matching.ErrInvalidInput), errors.Is(err, supplytree.ErrIncompatiblePorts):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, supplytree.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.log.Error(err, "match service call failed", "method", method)
	return status.Error(codes.Internal, err.Error())
}
