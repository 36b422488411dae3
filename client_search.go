package distant

import (
	"context"

	"github.com/chipsenkbeil/distant-go/internal/client"
	"github.com/chipsenkbeil/distant-go/internal/proto"
)

// Searcher streams the matches of one remote search.
type Searcher struct {
	id     SearchID
	c      *Client
	mail   *client.Mailbox
	cancel context.CancelFunc

	matches chan SearchMatch
	errs    chan error

	done chan struct{}
}

// Search starts a query on the server and streams its matches.
func (c *Client) Search(ctx context.Context, query SearchQuery) (*Searcher, error) {
	req, err := proto.NewRequest(proto.Search{Query: query})
	if err != nil {
		return nil, err
	}
	mail, err := c.inner.Mail(ctx, req)
	if err != nil {
		return nil, err
	}

	startCtx, cancel := c.opCtx(ctx)
	first, err := mail.Receive(startCtx)
	cancel()
	if err != nil {
		mail.Close()
		return nil, err
	}
	payload, err := first.Payload()
	if err != nil {
		mail.Close()
		return nil, err
	}
	started, ok := payload.(*proto.SearchStarted)
	if !ok {
		mail.Close()
		if remote, isErr := payload.(*proto.Error); isErr {
			return nil, remote
		}
		return nil, ErrUnexpectedResponse{Context: UnexpectedResponseContext{Op: "search", Got: payloadName(payload)}}
	}

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	s := &Searcher{
		id:      started.ID,
		c:       c,
		mail:    mail,
		cancel:  cancelPump,
		matches: make(chan SearchMatch, 1024),
		errs:    make(chan error, 64),
		done:    make(chan struct{}),
	}
	go s.pump(pumpCtx)
	return s, nil
}

// ID is the server-side search id.
func (s *Searcher) ID() SearchID { return s.id }

// Matches streams search hits; the channel closes when the search finishes.
func (s *Searcher) Matches() <-chan SearchMatch { return s.matches }

// Errors streams non-fatal traversal failures encountered by the walker.
func (s *Searcher) Errors() <-chan error { return s.errs }

// Done is closed when the search has finished, been cancelled, or failed.
func (s *Searcher) Done() <-chan struct{} { return s.done }

func (s *Searcher) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.matches)
	defer close(s.errs)
	defer s.mail.Close()
	for {
		resp, err := s.mail.Receive(ctx)
		if err != nil {
			return
		}
		payload, err := resp.Payload()
		if err != nil {
			continue
		}
		switch v := payload.(type) {
		case *proto.SearchResults:
			for _, match := range v.Matches {
				select {
				case s.matches <- match:
				case <-ctx.Done():
					return
				}
			}
		case *proto.Error:
			select {
			case s.errs <- v:
			default:
			}
		case *proto.SearchDone:
			return
		}
	}
}

// Cancel stops the search server-side; any pending page is still flushed.
func (s *Searcher) Cancel(ctx context.Context) error {
	return s.c.expectOk(ctx, "cancel_search", proto.CancelSearch{ID: s.id})
}
