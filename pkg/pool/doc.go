/*
Package pool spreads outbound HTTP requests across per-region forwarding
endpoints so that every request can leave from a different source address.

# Lifecycle

A Pool is created with New, which validates the target and makes no network
calls. Start provisions one endpoint per region concurrently. An existing
resource named after the pool (see Name) is reused unless force is set. Close
deletes the pool's resources in every region, or every resource when
Config.ClearAllOnTeardown is set, and leaves the pool inactive so that it can
be started again.

	p, err := pool.New(pool.Config{Target: "https://example.com"}, factory)
	if err != nil {
		return err
	}
	err = p.Use(ctx, func(ctx context.Context, p *pool.Pool) error {
		resp, err := p.Get(ctx, "https://example.com/data", nil)
		...
	})

# Readiness

With Config.WaitAllRegions, Start returns once every region finished. Without
it, Start returns as soon as the first endpoint is usable and the remaining
regions keep joining the pool in the background. Wait blocks until they are
done. Regions that fail are logged and skipped: a pool that ends up with no
endpoint is not an error, but routing through it fails with
router.ErrNotStarted.

# Routing

Every request goes to a uniformly chosen endpoint. The origin sees the
configured host header and a forwarded client address: the caller's
X-Forwarded-For when one was supplied, a random IPv4 address otherwise.
*/
package pool
