package scoring

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sentinel/internal/config"
	"sentinel/internal/fileutil"
	"sentinel/internal/objectstore"
	"sentinel/internal/services/llm"
	"sentinel/internal/store"
)

// ContentFlagAt is the confidence above which content is provisionally flagged.
const ContentFlagAt = 0.8

// Content flags.
const (
	FlagBlockedArtifact = "blocked_artifact"
	FlagPolicyPrefix    = "policy:"
)

// Verdict is a classifier's policy-violation confidence for some text.
type Verdict struct {
	Confidence float64
	Categories []string
	Reason     string
}

// Classifier estimates how likely text violates content policy.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (Verdict, error)
}

// LexiconClassifier combines weighted policy terms as a noisy-OR:
// 1 - prod(1 - w) over every matched term.
type LexiconClassifier struct {
	terms   []string
	weights map[string]float64
}

// NewLexiconClassifier builds a classifier from term weights in (0,1].
func NewLexiconClassifier(terms map[string]float64) *LexiconClassifier {
	c := &LexiconClassifier{weights: make(map[string]float64, len(terms))}
	for term, weight := range terms {
		folded := fold(term)
		if folded == "" || weight <= 0 {
			continue
		}
		c.weights[folded] = clamp01(weight)
	}
	for term := range c.weights {
		c.terms = append(c.terms, term)
	}
	sort.Strings(c.terms)
	return c
}

func (c *LexiconClassifier) Name() string { return config.ClassifierLexicon }

func (c *LexiconClassifier) Classify(_ context.Context, text string) (Verdict, error) {
	matched := matchTerms(fold(text), c.terms)
	clean := 1.0
	for _, term := range matched {
		clean *= 1 - c.weights[term]
	}
	verdict := Verdict{Confidence: round4(1 - clean), Categories: matched}
	if len(matched) > 0 {
		verdict.Reason = "matched policy terms: " + strings.Join(matched, ", ")
	}
	return verdict, nil
}

// ModelClassifier delegates to a remote content model.
type ModelClassifier struct {
	client *llm.Client
}

// NewModelClassifier wraps an llm client.
func NewModelClassifier(client *llm.Client) *ModelClassifier {
	return &ModelClassifier{client: client}
}

func (m *ModelClassifier) Name() string { return config.ClassifierModel }

func (m *ModelClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	verdict, err := m.client.ClassifyContent(ctx, text)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Confidence: verdict.Confidence, Categories: verdict.Categories, Reason: verdict.Reason}, nil
}

// NewClassifier returns the classifier selected by cfg.
func NewClassifier(cfg config.ContentScoring) Classifier {
	if cfg.Classifier == config.ClassifierModel {
		return NewModelClassifier(llm.NewClient(llm.Config{
			APIKey:         cfg.ModelAPIKey,
			BaseURL:        cfg.ModelBaseURL,
			Model:          cfg.ModelName,
			TimeoutSeconds: cfg.ModelTimeoutSeconds,
		}))
	}
	terms := cfg.Terms
	if len(terms) == 0 {
		terms = config.DefaultContentTerms()
	}
	return NewLexiconClassifier(terms)
}

// Content scores content-safety risk: a blocked artifact hash is decisive,
// otherwise the classifier's confidence over the listing text is used.
type Content struct {
	classifier Classifier
	objects    objectstore.Store
	blocked    map[string]struct{}
}

// NewContent builds the scorer. objects may be nil when no hash list is configured.
func NewContent(classifier Classifier, objects objectstore.Store, blockedHashes []string) *Content {
	blocked := make(map[string]struct{}, len(blockedHashes))
	for _, hash := range blockedHashes {
		if hash = strings.ToLower(strings.TrimSpace(hash)); hash != "" {
			blocked[hash] = struct{}{}
		}
	}
	return &Content{classifier: classifier, objects: objects, blocked: blocked}
}

func (c *Content) Kind() Kind { return KindContent }

func (c *Content) Score(ctx context.Context, sub *store.Submission, _ Context) (Result, error) {
	metadata := map[string]string{"classifier": c.classifier.Name()}

	if len(c.blocked) > 0 && c.objects != nil && sub.ArtifactHandle != "" {
		data, err := c.objects.Get(ctx, objectstore.Handle(sub.ArtifactHandle))
		if err != nil {
			return Result{}, fmt.Errorf("fetch artifact: %w", err)
		}
		digest := fileutil.SHA256Hex(data)
		metadata["sha256"] = digest
		if _, hit := c.blocked[digest]; hit {
			metadata["disposition"] = "flagged"
			return Result{
				RiskScore:       1,
				Flags:           []string{FlagBlockedArtifact},
				Recommendations: []string{"Artifact matches a blocked hash; remove the listing."},
				Metadata:        metadata,
			}, nil
		}
	}

	var verdict Verdict
	text := strings.TrimSpace(sub.Title + "\n" + sub.Description)
	if text != "" {
		var err error
		verdict, err = c.classifier.Classify(ctx, text)
		if err != nil {
			return Result{}, fmt.Errorf("classify: %w", err)
		}
	}

	confidence := clamp01(verdict.Confidence)
	disposition := "approved"
	if confidence > ContentFlagAt {
		disposition = "flagged"
	}
	metadata["disposition"] = disposition
	metadata["confidence"] = strconv.FormatFloat(confidence, 'f', 4, 64)

	flags := make([]string, 0, len(verdict.Categories))
	for _, category := range verdict.Categories {
		flags = append(flags, FlagPolicyPrefix+category)
	}
	var recs []string
	if verdict.Reason != "" {
		recs = append(recs, verdict.Reason)
	}
	return Result{
		RiskScore:       confidence,
		Flags:           flags,
		Recommendations: recs,
		Metadata:        metadata,
	}, nil
}
