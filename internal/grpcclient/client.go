package grpcclient

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/faceshape/internal/landmark"
	"github.com/example/faceshape/internal/logging"
)

const (
	serviceName  = "faceshape.landmark.v1.LandmarkService"
	detectMethod = "/" + serviceName + "/Detect"
)

// DialLandmarkService returns a ready-to-use client for the landmark sidecar.
func DialLandmarkService(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*LandmarkClient, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_landmark_service", "", err)
		logger.Error("failed to dial landmark service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewLandmarkClient(conn, logger), conn, nil
}

// NewLandmarkClient wraps an existing connection.
func NewLandmarkClient(conn grpc.ClientConnInterface, logger *zap.Logger) *LandmarkClient {
	return &LandmarkClient{conn: conn, logger: logger.Named("landmark_client")}
}

// LandmarkClient implements landmark.Detector against the remote sidecar. The sidecar
// reports every face it finds in its own order; the first one is used.
type LandmarkClient struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// Detect sends the grayscale image as PNG and decodes the first returned face.
func (c *LandmarkClient) Detect(ctx context.Context, img landmark.Image) (*landmark.Set, error) {
	if img.Bitmap == nil {
		return nil, fmt.Errorf("detect landmarks: nil bitmap")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, landmark.Grayscale(img.Bitmap)); err != nil {
		return nil, fmt.Errorf("encode grayscale image: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, detectMethod, wrapperspb.Bytes(buf.Bytes()), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_landmarks", "", err)
		c.logger.Error("landmark service call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	faces := resp.GetFields()["faces"].GetListValue().GetValues()
	if len(faces) == 0 {
		return nil, nil
	}
	if len(faces) > 1 {
		c.logger.Debug("multiple faces detected, using first", zap.Int("faces", len(faces)))
	}
	set, err := decodeFace(faces[0])
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_landmarks", "", err)
	}
	return set, nil
}

func decodeFace(v *structpb.Value) (*landmark.Set, error) {
	coords := v.GetListValue().GetValues()
	if len(coords) != 2*landmark.Count {
		return nil, fmt.Errorf("face has %d coordinates, want %d", len(coords), 2*landmark.Count)
	}
	var set landmark.Set
	for i := range set {
		x, okX := coords[2*i].GetKind().(*structpb.Value_NumberValue)
		y, okY := coords[2*i+1].GetKind().(*structpb.Value_NumberValue)
		if !okX || !okY {
			return nil, fmt.Errorf("point %d is not numeric", i)
		}
		set[i] = landmark.Point{X: x.NumberValue, Y: y.NumberValue}
	}
	return &set, nil
}
