package transportgrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arklim/platform-authz/internal/core/domain"
	"github.com/arklim/platform-authz/internal/usecase"
)

const (
	PermissionServiceName        = "authz.v1.PermissionService"
	ValidatePermissionFullMethod = "/" + PermissionServiceName + "/ValidatePermission"
)

// PermissionServiceServer is the server API for PermissionService.
// Messages are google.protobuf.Struct documents so callers need no generated stubs.
type PermissionServiceServer interface {
	ValidatePermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// PermissionServiceDesc describes the PermissionService for grpc.Server registration.
var PermissionServiceDesc = grpc.ServiceDesc{
	ServiceName: PermissionServiceName,
	HandlerType: (*PermissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ValidatePermission",
			Handler:    validatePermissionHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authz/v1/permission.proto",
}

// RegisterPermissionServiceServer registers srv with s.
func RegisterPermissionServiceServer(s grpc.ServiceRegistrar, srv PermissionServiceServer) {
	s.RegisterService(&PermissionServiceDesc, srv)
}

func validatePermissionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PermissionServiceServer).ValidatePermission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ValidatePermissionFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PermissionServiceServer).ValidatePermission(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// PermissionServiceClient calls PermissionService over an existing connection.
type PermissionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPermissionServiceClient constructs a client.
func NewPermissionServiceClient(cc grpc.ClientConnInterface) *PermissionServiceClient {
	return &PermissionServiceClient{cc: cc}
}

// ValidatePermission invokes the remote check.
func (c *PermissionServiceClient) ValidatePermission(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ValidatePermissionFullMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Validator evaluates a permission check.
type Validator interface {
	Validate(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error)
}

// PermissionServer implements PermissionServiceServer on top of the policy evaluator.
type PermissionServer struct {
	validator Validator
	logger    *zap.Logger
}

// NewPermissionServer constructs the gRPC permission service.
func NewPermissionServer(validator Validator, logger *zap.Logger) *PermissionServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionServer{validator: validator, logger: logger}
}

var _ PermissionServiceServer = (*PermissionServer)(nil)

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// maxStructID is the largest integer a Struct number holds exactly.
const maxStructID = 1<<53 - 1

// validateRequest mirrors the HTTP body. Ids are read separately by structID.
type validateRequest struct {
	FunctionID     string     `json:"functionId"`
	PermissionType any        `json:"permissionType"`
	Group          string     `json:"group"`
	RoleExtendData []keyValue `json:"roleExtendData"`
	Conditions     []keyValue `json:"conditions"`
}

// ValidatePermission decides one permission check. Denials are OK responses with allowed=false.
func (s *PermissionServer) ValidatePermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	validation, err := decodeValidationRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.validator.Validate(ctx, validation)
	if err != nil {
		return nil, s.toStatus(err)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"result":  result.String(),
		"allowed": result == domain.ResultSuccess,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return resp, nil
}

func decodeValidationRequest(req *structpb.Struct) (domain.ValidationRequest, error) {
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("encode request: %w", err)
	}

	var body validateRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("malformed request: %w", err)
	}

	if body.PermissionType == nil {
		return domain.ValidationRequest{}, errors.New("permissionType is required")
	}
	permissionType, ok := domain.ParsePermissionType(fmt.Sprint(body.PermissionType))
	if !ok {
		return domain.ValidationRequest{}, fmt.Errorf("unknown permissionType %v", body.PermissionType)
	}

	userID, roleIDs, err := decodeIdentity(req)
	if err != nil {
		return domain.ValidationRequest{}, err
	}

	validation := domain.ValidationRequest{
		UserID:         userID,
		RoleIDs:        roleIDs,
		FunctionID:     body.FunctionID,
		PermissionType: permissionType,
		Group:          body.Group,
	}
	for _, tag := range body.RoleExtendData {
		validation.RoleExtendDataFilters = append(validation.RoleExtendDataFilters, domain.RoleExtendData{Key: tag.Key, Value: tag.Value})
	}
	for _, cond := range body.Conditions {
		validation.Conditions = append(validation.Conditions, domain.Condition{Key: cond.Key, Value: cond.Value})
	}

	if err := usecase.CheckRequest(validation); err != nil {
		return domain.ValidationRequest{}, err
	}
	return validation, nil
}

func decodeIdentity(req *structpb.Struct) (*int64, []int64, error) {
	fields := req.GetFields()

	var userID *int64
	if v, ok := fields["userId"]; ok && !isNull(v) {
		id, err := structID("userId", v)
		if err != nil {
			return nil, nil, err
		}
		userID = &id
	}

	var roleIDs []int64
	if v, ok := fields["roleIds"]; ok && !isNull(v) {
		list := v.GetListValue()
		if list == nil {
			return nil, nil, errors.New("roleIds must be a list")
		}
		roleIDs = make([]int64, 0, len(list.GetValues()))
		for i, item := range list.GetValues() {
			id, err := structID(fmt.Sprintf("roleIds[%d]", i), item)
			if err != nil {
				return nil, nil, err
			}
			roleIDs = append(roleIDs, id)
		}
	}
	return userID, roleIDs, nil
}

func isNull(v *structpb.Value) bool {
	switch v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return true
	}
	return false
}

// structID reads an id sent either as a decimal string or as an integral number small
// enough to survive the double encoding.
func structID(field string, v *structpb.Value) (int64, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		id, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a decimal integer string", field)
		}
		return id, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || math.Abs(n) > maxStructID {
			return 0, fmt.Errorf("%s must be an integer within ±2^53; send larger ids as decimal strings", field)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a decimal string or integer", field)
	}
}

func (s *PermissionServer) toStatus(err error) error {
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, usecase.ErrUpstreamUnavailable):
		s.logger.Warn("permission data unavailable", zap.Error(err))
		return status.Error(codes.Unavailable, "permission data unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "permission check timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "permission check cancelled")
	default:
		s.logger.Error("permission check failed", zap.Error(err))
		return status.Error(codes.Internal, "permission check failed")
	}
}
