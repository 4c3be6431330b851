package slackbot

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Poster is the part of *slack.Client the notifier needs.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Field struct {
	Label string
	Value string
}

// Summary is one run report: a header, a fallback text line and a grid of
// labelled values.
type Summary struct {
	Title  string
	Text   string
	Fields []Field
	Footer string
}

type Notifier struct {
	poster    Poster
	channelID string
	logger    *zap.Logger
}

func New(token, channelID string, httpClient *http.Client, logger *zap.Logger) *Notifier {
	var opts []slack.Option
	if httpClient != nil {
		opts = append(opts, slack.OptionHTTPClient(httpClient))
	}
	return NewWithPoster(slack.New(token, opts...), channelID, logger)
}

func NewWithPoster(poster Poster, channelID string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{poster: poster, channelID: channelID, logger: logger}
}

func (n *Notifier) Post(ctx context.Context, s Summary) error {
	_, ts, err := n.poster.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(s.Text, false),
		slack.MsgOptionBlocks(summaryBlocks(s)...),
	)
	if err != nil {
		return fmt.Errorf("slack: post summary to %s: %w", n.channelID, err)
	}
	n.logger.Info("slack summary posted", zap.String("channel", n.channelID), zap.String("ts", ts))
	return nil
}

// Section blocks hold at most 10 fields.
const maxSectionFields = 10

func summaryBlocks(s Summary) []slack.Block {
	var blocks []slack.Block
	if s.Title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, s.Title, false, false)))
	}
	if s.Text != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, s.Text, false, false), nil, nil))
	}
	for start := 0; start < len(s.Fields); start += maxSectionFields {
		end := min(start+maxSectionFields, len(s.Fields))
		fields := make([]*slack.TextBlockObject, 0, end-start)
		for _, f := range s.Fields[start:end] {
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", escape(f.Label), escape(f.Value)), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}
	if s.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, s.Footer, false, false)))
	}
	return blocks
}

func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
