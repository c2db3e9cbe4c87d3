// Package seeder generates synthetic conflict news articles for load and
// demo runs of the ingest pipeline.
package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

// place is a state with a few of its LGAs.
type place struct {
	State string
	LGAs  []string
}

var places = []place{
	{"Plateau", []string{"Bokkos", "Mangu", "Barkin Ladi", "Riyom"}},
	{"Benue", []string{"Guma", "Agatu", "Logo", "Makurdi"}},
	{"Kaduna", []string{"Kauru", "Zangon Kataf", "Kajuru", "Chikun"}},
	{"Zamfara", []string{"Maru", "Tsafe", "Anka", "Gusau"}},
	{"Borno", []string{"Gwoza", "Konduga", "Bama", "Dikwa"}},
	{"Katsina", []string{"Faskari", "Batsari", "Safana"}},
	{"Niger", []string{"Shiroro", "Rafi", "Mariga"}},
	{"Taraba", []string{"Wukari", "Takum", "Ibi"}},
	{"Nasarawa", []string{"Awe", "Doma", "Obi"}},
	{"Kogi", []string{"Omala", "Dekina", "Bassa"}},
}

type storyline struct {
	Headline string
	Lead     string
}

// Headlines take the LGA and state. Leads take the actor, the LGA and a count.
var storylines = []storyline{
	{"Gunmen attack villages in %s, %s", "%s stormed communities in %s overnight, killing at least %d residents."},
	{"Herder-farmer clash leaves several dead in %s, %s", "A dispute over grazing land between %s and farmers in %s turned violent, leaving %d dead."},
	{"Protest turns violent in %s, %s", "Youths led by %s clashed with police in %s; %d people were injured."},
	{"Reprisal attacks feared in %s, %s after killings", "Community leaders warn that %[1]s may retaliate after %[3]d bodies were recovered near %[2]s."},
	{"Peace meeting held in %s, %s", "Traditional rulers and %s met in %s to ease tensions; %d delegates attended."},
	{"Bandits abduct travellers in %s, %s", "%s blocked a highway in %s and abducted %d passengers."},
	{"Election dispute sparks unrest in %s, %s", "Supporters of %s clashed in %s after results were announced; %d arrests were made."},
}

var actors = []string{
	"suspected armed herders", "unknown gunmen", "a local vigilante group", "bandits",
	"rival youth groups", "party supporters", "militia members", "community youths",
}

// Generator produces deterministic articles for a given seed.
type Generator struct {
	f      *gofakeit.Faker
	now    func() time.Time
	spread time.Duration
}

// NewGenerator creates a generator. Articles are dated within spread before now.
func NewGenerator(seed int64, spread time.Duration) *Generator {
	return &Generator{f: gofakeit.New(seed), now: time.Now, spread: spread}
}

// Article generates the i-th of total articles. Fetch times are spaced
// evenly across the spread with jitter of up to 40% of the spacing.
func (g *Generator) Article(i, total int) *article.RawArticle {
	p := places[g.f.Number(0, len(places)-1)]
	lga := g.f.RandomString(p.LGAs)
	s := storylines[g.f.Number(0, len(storylines)-1)]
	actor := g.f.RandomString(actors)
	n := g.f.Number(1, 60)

	lead := fmt.Sprintf(s.Lead, actor, lga, n)
	lead = strings.ToUpper(lead[:1]) + lead[1:]

	body := strings.Join([]string{
		lead,
		fmt.Sprintf("%s, a resident of %s, said: %q", g.f.Name(), lga, g.f.Sentence(12)),
		fmt.Sprintf("The %s State Police Command confirmed the incident and said investigations were ongoing.", p.State),
		g.f.Paragraph(1, 3, 14, " "),
	}, "\n\n")

	return &article.RawArticle{
		Title:     fmt.Sprintf(s.Headline, lga, p.State),
		Content:   body,
		SourceURL: fmt.Sprintf("https://%s/news/%s", g.f.DomainName(), g.f.UUID()),
		FetchedAt: g.fetchedAt(i, total),
	}
}

func (g *Generator) fetchedAt(i, total int) time.Time {
	now := g.now().UTC()
	if g.spread <= 0 || total <= 0 {
		return now
	}
	step := float64(g.spread) / float64(total)
	jitter := (g.f.Float64Range(-1, 1)) * step * 0.4
	off := time.Duration(float64(i)*step + jitter)
	off = max(0, min(off, g.spread))
	return now.Add(-(g.spread - off))
}

// HTTPPublisher submits articles through the dashboard API.
type HTTPPublisher struct {
	endpoint string
	client   *http.Client
}

var _ ingest.Publisher = (*HTTPPublisher)(nil)

// NewHTTPPublisher posts to baseURL + /api/v1/articles.
func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	return &HTTPPublisher{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/v1/articles",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Publish implements ingest.Publisher.
func (p *HTTPPublisher) Publish(ctx context.Context, a *article.RawArticle) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req) //nolint:gosec // endpoint is operator configured
	if err != nil {
		return fmt.Errorf("post article: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post article: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Result summarizes a Run.
type Result struct {
	Published int
	Failed    int
}

// Run publishes count generated articles, pausing interval between them.
// It stops early when ctx is cancelled.
func Run(ctx context.Context, g *Generator, pub ingest.Publisher, count int, interval time.Duration, logger log.Logger) Result {
	if logger == nil {
		logger = log.Nop()
	}
	var res Result
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		a := g.Article(i, count)
		if err := pub.Publish(ctx, a); err != nil {
			res.Failed++
			logger.Warn(ctx, "publish failed", "title", a.Title, "error", err)
		} else {
			res.Published++
		}

		if (i+1)%100 == 0 {
			logger.Info(ctx, "seeding progress", "done", i+1, "total", count, "failed", res.Failed)
		}
		if interval > 0 && i < count-1 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
	}
	return res
}
