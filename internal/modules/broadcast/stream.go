// README: Resumable event stream combining the hub with log replay.
package broadcast

import "context"

// Stream calls fn for every event matching f with Seq above fromSeq: first the ones
// already in the log, then live ones from the hub. When the hub drops the subscriber
// for lagging, Stream resubscribes and replays the gap from the log. Each event id is
// delivered once. Stream returns when ctx is done or fn fails.
func (l *Log) Stream(ctx context.Context, hub *Hub, f Filter, fromSeq int64, fn func(Event) error) error {
	dedup := NewDeduper(0)
	last := fromSeq

	deliver := func(e Event) error {
		if dedup.Seen(e.ID) {
			return nil
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.Seq > last {
			last = e.Seq
		}
		return nil
	}

	for {
		// Subscribe before replaying so nothing falls between the two.
		sub := hub.Subscribe(f)
		missed, err := l.EventsAfter(ctx, last, f)
		if err != nil {
			sub.Close()
			return err
		}
		for _, e := range missed {
			if err := deliver(e); err != nil {
				sub.Close()
				return err
			}
		}

		resume, err := l.follow(ctx, sub, deliver)
		sub.Close()
		if !resume {
			return err
		}
		l.log.Info("stream resuming after lag", "trip_id", f.TripID, "user_id", f.UserID, "seq", last)
	}
}

func (l *Log) follow(ctx context.Context, sub *Subscription, deliver func(Event) error) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return sub.Lagged(), nil
			}
			if err := deliver(e); err != nil {
				return false, err
			}
		}
	}
}
