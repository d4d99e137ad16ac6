package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/internal/service"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
	"github.com/pesio-ai/be-crm-activities/pkg/middleware"
)

// ActivityVerificationServiceName is the fully-qualified gRPC service name.
const ActivityVerificationServiceName = "crm.activities.v1.ActivityVerificationService"

// ActivityVerificationServer is the gRPC surface of the activity workflow.
// Requests and responses are google.protobuf.Struct documents carrying the
// same JSON shapes as the HTTP API.
type ActivityVerificationServer interface {
	CreateActivity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetActivity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActivities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyVerification(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resubmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssignManager(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPendingVerifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUnassigned(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSalesUsers(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ActivityVerificationServiceDesc describes ActivityVerificationServer for
// grpc.Server.RegisterService.
var ActivityVerificationServiceDesc = grpc.ServiceDesc{
	ServiceName: ActivityVerificationServiceName,
	HandlerType: (*ActivityVerificationServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateActivity", ActivityVerificationServer.CreateActivity),
		unaryMethod("GetActivity", ActivityVerificationServer.GetActivity),
		unaryMethod("ListActivities", ActivityVerificationServer.ListActivities),
		unaryMethod("ApplyVerification", ActivityVerificationServer.ApplyVerification),
		unaryMethod("Resubmit", ActivityVerificationServer.Resubmit),
		unaryMethod("AssignManager", ActivityVerificationServer.AssignManager),
		unaryMethod("GetHistory", ActivityVerificationServer.GetHistory),
		unaryMethod("ListPendingVerifications", ActivityVerificationServer.ListPendingVerifications),
		unaryMethod("ListUnassigned", ActivityVerificationServer.ListUnassigned),
		unaryMethod("ListSalesUsers", ActivityVerificationServer.ListSalesUsers),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crm/activities/v1/activities.proto",
}

type unaryCall func(ActivityVerificationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ActivityVerificationServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ActivityVerificationServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// RegisterActivityVerificationServer registers srv on s.
func RegisterActivityVerificationServer(s grpc.ServiceRegistrar, srv ActivityVerificationServer) {
	s.RegisterService(&ActivityVerificationServiceDesc, srv)
}

// GRPCHandler implements ActivityVerificationServer
type GRPCHandler struct {
	activities   *service.ActivityService
	verification *service.VerificationService
	assignment   *service.AssignmentService
	logger       zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(
	activities *service.ActivityService,
	verification *service.VerificationService,
	assignment *service.AssignmentService,
	logger zerolog.Logger,
) *GRPCHandler {
	return &GRPCHandler{
		activities:   activities,
		verification: verification,
		assignment:   assignment,
		logger:       logger.With().Str("handler", "grpc").Logger(),
	}
}

type idRequest struct {
	ID string `json:"id" validate:"required"`
}

type listRequest struct {
	OwnerEmails  []string `json:"owner_emails" validate:"omitempty,dive,email"`
	Kind         string   `json:"kind" validate:"omitempty,oneof=walk_in closure"`
	Status       string   `json:"status" validate:"omitempty,oneof=pending_assignment pending approved changes_requested"`
	BuilderEmail string   `json:"builder_email" validate:"omitempty,email"`
}

func (r *listRequest) filter() repository.ActivityFilter {
	var f repository.ActivityFilter
	for _, e := range r.OwnerEmails {
		f.OwnerEmails = append(f.OwnerEmails, strings.ToLower(strings.TrimSpace(e)))
	}
	if r.Kind != "" {
		k := repository.ActivityKind(r.Kind)
		f.Kind = &k
	}
	if r.Status != "" {
		s := repository.ApprovalStatus(r.Status)
		f.ApprovalStatus = &s
	}
	if r.BuilderEmail != "" {
		b := strings.ToLower(strings.TrimSpace(r.BuilderEmail))
		f.BuilderEmail = &b
	}
	return f
}

// CreateActivity creates a new activity owned by the caller unless an admin
// names another owner.
func (h *GRPCHandler) CreateActivity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in createActivityDTO
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if errs, ok := in.Ok(); !ok {
		return nil, invalidArgument(errs)
	}

	h.logger.Info().Str("kind", in.Kind).Str("actor", actor).Msg("gRPC CreateActivity called")

	activity, err := h.activities.CreateActivity(ctx, in.toRequest(actor))
	if err != nil {
		return nil, h.fail(err, "Failed to create activity")
	}
	return encodeStruct(activity)
}

// GetActivity retrieves an activity by ID
func (h *GRPCHandler) GetActivity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in idRequest
	if err := decodeValid(req, &in); err != nil {
		return nil, err
	}

	activity, err := h.activities.GetActivity(ctx, in.ID, actor)
	if err != nil {
		return nil, h.fail(err, "Failed to get activity")
	}
	return encodeStruct(activity)
}

// ListActivities lists the activities visible to the caller
func (h *GRPCHandler) ListActivities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in listRequest
	if err := decodeValid(req, &in); err != nil {
		return nil, err
	}

	activities, err := h.activities.ListVisible(ctx, actor, in.filter())
	if err != nil {
		return nil, h.fail(err, "Failed to list activities")
	}
	return encodeStruct(map[string]interface{}{"activities": activities, "total": len(activities)})
}

// ApplyVerification records a builder or reporting-officer verdict
func (h *GRPCHandler) ApplyVerification(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in verifyDTO
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if errs, ok := in.Ok(); !ok {
		return nil, invalidArgument(errs)
	}

	h.logger.Info().
		Str("activity_id", in.ActivityID).
		Str("authority", in.Authority).
		Str("verdict", in.Verdict).
		Msg("gRPC ApplyVerification called")

	activity, err := h.verification.ApplyVerification(ctx, in.ActivityID,
		repository.Authority(in.Authority), repository.Verdict(in.Verdict), actor, in.Note)
	if err != nil {
		return nil, h.fail(err, "Failed to apply verification")
	}
	return encodeStruct(activity)
}

// Resubmit reopens a changes_requested activity
func (h *GRPCHandler) Resubmit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in resubmitDTO
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if errs, ok := in.Ok(); !ok {
		return nil, invalidArgument(errs)
	}

	activity, err := h.verification.Resubmit(ctx, in.ActivityID, actor, in.changes())
	if err != nil {
		return nil, h.fail(err, "Failed to resubmit activity")
	}
	return encodeStruct(activity)
}

// AssignManager binds an unassigned owner to a manager
func (h *GRPCHandler) AssignManager(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in assignManagerDTO
	if err := decodeStruct(req, &in); err != nil {
		return nil, err
	}
	if errs, ok := in.Ok(); !ok {
		return nil, invalidArgument(errs)
	}

	h.logger.Info().
		Str("activity_id", in.ActivityID).
		Str("manager", in.ManagerEmail).
		Msg("gRPC AssignManager called")

	activity, err := h.assignment.AssignManager(ctx, in.ActivityID, in.ManagerEmail, actor)
	if err != nil {
		return nil, h.fail(err, "Failed to assign manager")
	}
	return encodeStruct(activity)
}

// GetHistory returns the workflow log of an activity
func (h *GRPCHandler) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	var in idRequest
	if err := decodeValid(req, &in); err != nil {
		return nil, err
	}

	logs, err := h.activities.History(ctx, in.ID, actor)
	if err != nil {
		return nil, h.fail(err, "Failed to get history")
	}
	return encodeStruct(map[string]interface{}{"activity_id": in.ID, "workflow_logs": logs})
}

// ListPendingVerifications returns the caller's verification inbox
func (h *GRPCHandler) ListPendingVerifications(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	activities, err := h.activities.PendingVerifications(ctx, actor)
	if err != nil {
		return nil, h.fail(err, "Failed to list pending verifications")
	}
	return encodeStruct(map[string]interface{}{"activities": activities, "total": len(activities)})
}

// ListUnassigned returns the admin assignment queue
func (h *GRPCHandler) ListUnassigned(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	activities, err := h.assignment.UnassignedQueue(ctx, actor)
	if err != nil {
		return nil, h.fail(err, "Failed to list unassigned activities")
	}
	return encodeStruct(map[string]interface{}{"activities": activities, "total": len(activities)})
}

// ListSalesUsers returns the sales users the caller may filter by
func (h *GRPCHandler) ListSalesUsers(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	users, err := h.activities.VisibleSalesUsers(ctx, actor)
	if err != nil {
		return nil, h.fail(err, "Failed to list sales users")
	}
	return encodeStruct(map[string]interface{}{"users": users, "total": len(users)})
}

func (h *GRPCHandler) fail(err error, msg string) error {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.logger.Error().Err(err).Msg(msg)
	}
	return mapErrorToGRPC(err)
}

func grpcActor(ctx context.Context) (string, error) {
	actor := middleware.ActorFromContext(ctx)
	if actor == "" {
		return "", status.Error(codes.Unauthenticated, "missing caller identity")
	}
	return actor, nil
}

func decodeStruct(in *structpb.Struct, dst interface{}) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("invalid request: %v", err))
	}
	return nil
}

func decodeValid(in *structpb.Struct, dst interface{}) error {
	if err := decodeStruct(in, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		return invalidArgument(validationErrors(err))
	}
	return nil
}

func encodeStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func invalidArgument(fields map[string]string) error {
	parts := make([]string, 0, len(fields))
	for f, tag := range fields {
		parts = append(parts, f+" ("+tag+")")
	}
	return status.Error(codes.InvalidArgument, "validation failed: "+strings.Join(parts, ", "))
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.ErrCodeInvalidState:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
