// Package httpfeed samples HTTP endpoints into entity attributes.
//
// A [Feed] performs one request per tick through a pooled [Client] and hands
// the [*Response] to attribute handlers. Transport failures, including
// timeouts, go through the exception pathway; any HTTP status, including 5xx,
// is a normal sample judged by the configured success predicate:
//
//	probe, err := httpfeed.New(entity, "health", "http://10.0.0.7:8080/health",
//	    httpfeed.WithTimeout(2*time.Second),
//	)
//
//	up := pulsefeed.NewPollConfig[*httpfeed.Response](ServiceUp, 5*time.Second).
//	    SuccessWhen(httpfeed.StatusIn(2)).
//	    OnSuccess(func(*httpfeed.Response) (pulsefeed.Result[bool], error) { return pulsefeed.Value(true), nil }).
//	    OnFailureOrException(false).
//	    MustBuildPoll()
//
//	err = httpfeed.Poll(probe, up)
//
// [Feed.RegisterWith] performs a one-time coordinator registration that is
// retried with back-off until it succeeds; [PollGated] jobs stay "not ready"
// until then.
package httpfeed
