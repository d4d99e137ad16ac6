package handler

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newGRPCClient(t *testing.T) *grpc.ClientConn {
	t.Helper()
	s := newTestServices()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(zerolog.Nop()),
		ActorInterceptor,
	))
	RegisterActivityVerificationServer(srv, NewGRPCHandler(s.activities, s.verification, s.assignment, zerolog.Nop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method, actor string, in map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	ctx := context.Background()
	if actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, actorMetadataKey, actor)
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ActivityVerificationServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_VerificationFlow(t *testing.T) {
	conn := newGRPCClient(t)

	created, err := invoke(t, conn, "CreateActivity", "rep@x.com", map[string]interface{}{
		"kind":          "closure",
		"builder_email": "builder@x.com",
		"closure": map[string]interface{}{
			"customer_name": "Vikram Shah",
			"unit_number":   "B-1204",
			"deal_value":    "8450000.00",
			"closure_date":  "2026-04-02T00:00:00Z",
		},
	})
	require.NoError(t, err)
	id := created.Fields["id"].GetStringValue()
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", created.Fields["approval_status"].GetStringValue())

	out, err := invoke(t, conn, "ApplyVerification", "builder@x.com", map[string]interface{}{
		"activity_id": id, "authority": "builder", "verdict": "verified",
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", out.Fields["approval_status"].GetStringValue())

	out, err = invoke(t, conn, "ApplyVerification", "mgr@x.com", map[string]interface{}{
		"activity_id": id, "authority": "reporting_officer", "verdict": "verified",
	})
	require.NoError(t, err)
	assert.Equal(t, "approved", out.Fields["approval_status"].GetStringValue())

	history, err := invoke(t, conn, "GetHistory", "rep@x.com", map[string]interface{}{"id": id})
	require.NoError(t, err)
	assert.Len(t, history.Fields["workflow_logs"].GetListValue().GetValues(), 2)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	conn := newGRPCClient(t)

	created, err := invoke(t, conn, "CreateActivity", "rep@x.com", map[string]interface{}{
		"kind": "walk_in",
		"walk_in": map[string]interface{}{
			"customer_name": "Asha Rao",
			"visit_date":    "2026-03-14T10:00:00Z",
		},
	})
	require.NoError(t, err)
	id := created.Fields["id"].GetStringValue()

	cases := []struct {
		name   string
		method string
		actor  string
		in     map[string]interface{}
		want   codes.Code
	}{
		{"no identity", "ListActivities", "", map[string]interface{}{}, codes.Unauthenticated},
		{"invalid verdict", "ApplyVerification", "mgr@x.com",
			map[string]interface{}{"activity_id": id, "authority": "builder", "verdict": "maybe"}, codes.InvalidArgument},
		{"builder without builder", "ApplyVerification", "admin@x.com",
			map[string]interface{}{"activity_id": id, "authority": "builder", "verdict": "verified"}, codes.FailedPrecondition},
		{"wrong officer", "ApplyVerification", "rep2@x.com",
			map[string]interface{}{"activity_id": id, "authority": "reporting_officer", "verdict": "verified"}, codes.PermissionDenied},
		{"missing", "GetActivity", "rep@x.com", map[string]interface{}{"id": "nope"}, codes.NotFound},
		{"missing id", "GetActivity", "rep@x.com", map[string]interface{}{}, codes.InvalidArgument},
		{"queue needs admin", "ListUnassigned", "mgr@x.com", map[string]interface{}{}, codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := invoke(t, conn, tc.method, tc.actor, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.want, status.Code(err), err.Error())
		})
	}
}

func TestGRPC_ListActivitiesRespectsVisibility(t *testing.T) {
	conn := newGRPCClient(t)
	for _, owner := range []string{"rep@x.com", "rep2@x.com"} {
		_, err := invoke(t, conn, "CreateActivity", owner, map[string]interface{}{
			"kind":    "walk_in",
			"walk_in": map[string]interface{}{"customer_name": "Asha Rao", "visit_date": "2026-03-14T10:00:00Z"},
		})
		require.NoError(t, err)
	}

	out, err := invoke(t, conn, "ListActivities", "rep@x.com", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), out.Fields["total"].GetNumberValue())

	out, err = invoke(t, conn, "ListActivities", "mgr@x.com", map[string]interface{}{"kind": "walk_in"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), out.Fields["total"].GetNumberValue())
}
