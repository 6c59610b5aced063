package main

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/server"
	"github.com/isometry/s3-authserver/internal/signature"
)

// Field keys whose values never reach the log output.
var maskedFieldKeys = []string{"secret_key", "password", "signature", "authorization"}

// newLogContext returns the root logging context. Subsystems inherit level
// unless overridden by S3AUTH_LOG_<SUBSYSTEM>, e.g. S3AUTH_LOG_POOL=trace.
func newLogContext(ctx context.Context, level string) context.Context {
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("s3authserver"),
		tfsdklog.WithLevel(hclog.LevelFromString(level)),
	)
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, maskedFieldKeys...)

	for _, subsystem := range []string{s3ldap.SubsystemLDAP, s3ldap.SubsystemPool, signature.Subsystem, server.Subsystem} {
		ctx = tflog.NewSubsystem(ctx, subsystem,
			tflog.WithLevelFromEnv("S3AUTH_LOG_"+strings.ToUpper(subsystem)))
		ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, subsystem, maskedFieldKeys...)
	}
	return ctx
}
