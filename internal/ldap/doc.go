/*
Package ldap provides pooled access to the directory that stores accounts,
users, access keys and SAML providers.

# Connection Tiers

The client keeps two independent pools of the same type:

  - Exclusive tier (MaxConnections): each connection has one holder at a
    time. All mutations run here, and WithSession pins a multi-step write to
    one connection.
  - Shared tier (MaxSharedConnections): each connection may have up to
    SharedFanout concurrent holders. Lookups, including the secret lookups
    made while verifying request signatures, run here.

Admission to a tier is a FIFO semaphore, so waiters are served in arrival
order and a caller waits at most AcquireTimeout before receiving
ErrPoolExhausted. Connections are checked on acquisition (a root DSE search
on the exclusive tier, a cheap closing check on the shared tier); a
connection that fails is discarded and replaced, with dial retries bounded
by MaxRetries, after which ErrBackendUnavailable is returned.

# Errors

Directory failures are wrapped in *LDAPError with an ErrorCategory.
IsNotFoundError, IsConflictError and IsUnavailableError classify them for
callers.

# Logging

Operations log through tflog subsystems "ldap" and "pool". Both must be
registered on the root context with tflog.NewSubsystem.
*/
package ldap
