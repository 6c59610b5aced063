package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

func checkResetFault(fields map[string]string) error {
	if _, err := s3ldap.ParseFault(fields["FaultPoint"]); err != nil {
		return &model.ValidationError{Field: "FaultPoint", Reason: err.Error()}
	}
	return nil
}

func checkInjectFault(fields map[string]string) error {
	if err := checkResetFault(fields); err != nil {
		return err
	}
	switch s3ldap.FaultMode(fields["Mode"]) {
	case s3ldap.FailOnce, s3ldap.FailAlways:
		return nil
	case s3ldap.FailNTimes, s3ldap.SkipNTimes:
		if _, err := strconv.Atoi(fields["Value"]); err != nil {
			return &model.ValidationError{Field: "Value", Reason: "must be an integer"}
		}
		return nil
	default:
		return &model.ValidationError{Field: "Mode", Reason: fmt.Sprintf("unknown fault mode %q", fields["Mode"])}
	}
}

func (s *Server) injectFault(ctx context.Context, c *call) (response, error) {
	if s.faults == nil {
		return nil, fmt.Errorf("%w: fault injection is disabled", errInvalidAction)
	}

	fault := s3ldap.Fault(c.fields["FaultPoint"])
	mode := s3ldap.FaultMode(c.fields["Mode"])
	n, _ := strconv.Atoi(c.fields["Value"])
	if err := s.faults.Inject(fault, mode, n); err != nil {
		return nil, &model.ValidationError{Field: "Value", Reason: err.Error()}
	}

	tflog.SubsystemWarn(ctx, Subsystem, "Fault injected", map[string]any{
		"fault": string(fault),
		"mode":  string(mode),
		"value": n,
	})
	return &InjectFaultResponse{}, nil
}

func (s *Server) resetFault(ctx context.Context, c *call) (response, error) {
	if s.faults == nil {
		return nil, fmt.Errorf("%w: fault injection is disabled", errInvalidAction)
	}

	fault := s3ldap.Fault(c.fields["FaultPoint"])
	if err := s.faults.Reset(fault); err != nil {
		return nil, err
	}
	tflog.SubsystemInfo(ctx, Subsystem, "Fault reset", map[string]any{"fault": string(fault)})
	return &ResetFaultResponse{}, nil
}
