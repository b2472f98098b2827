package modbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCollectionCounters     = "counters"
	mongoCollectionModLogs      = "mod_logs"
	mongoCollectionModMail      = "modmails"
	mongoCollectionQuestions    = "qotds"
	mongoCollectionPendingRoles = "pending_roles"
	mongoCollectionInteractions = "interaction_logs"
)

type mongoCounterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// mongoCaseDoc stores durations as seconds
type mongoCaseDoc struct {
	Case      int64     `bson:"case"`
	User      string    `bson:"user"`
	Mod       *string   `bson:"mod"`
	Type      string    `bson:"type"`
	Duration  *float64  `bson:"duration"`
	Reason    string    `bson:"reason"`
	Timestamp time.Time `bson:"timestamp"`
}

func newMongoCaseDoc(c *ModerationCase) mongoCaseDoc {
	doc := mongoCaseDoc{
		Case:      c.CaseNumber,
		User:      c.SubjectUserID,
		Mod:       c.ModeratorUserID,
		Type:      string(c.Kind),
		Reason:    c.Reason,
		Timestamp: c.CreatedAt,
	}
	if c.Duration != nil {
		seconds := c.Duration.Seconds()
		doc.Duration = &seconds
	}
	return doc
}

func (d mongoCaseDoc) toCase() (*ModerationCase, error) {
	c := &ModerationCase{
		CaseNumber:      d.Case,
		SubjectUserID:   d.User,
		ModeratorUserID: d.Mod,
		Kind:            CaseKind(d.Type),
		Reason:          d.Reason,
		CreatedAt:       d.Timestamp.UTC(),
	}
	if d.Duration != nil {
		c.Duration = &Duration{Duration: time.Duration(*d.Duration * float64(time.Second))}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid case document %d: %w", d.Case, err)
	}
	return c, nil
}

type mongoPendingRoleDoc struct {
	ID        string    `bson:"_id"`
	Kind      string    `bson:"kind"`
	User      string    `bson:"user"`
	DueAt     time.Time `bson:"due_at"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d mongoPendingRoleDoc) toPendingRole() PendingRoleAssignment {
	return PendingRoleAssignment{
		ModelStringID: ModelStringID{ID: d.ID},
		Kind:          d.Kind,
		SubjectUserID: d.User,
		DueAt:         d.DueAt.UTC(),
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

type mongoModMailDoc struct {
	MailNumber int64     `bson:"mail_number"`
	Channel    string    `bson:"channel"`
	User       string    `bson:"user"`
	CreatedAt  time.Time `bson:"created_at"`
}

type mongoQuestionDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Question  string             `bson:"question"`
	Credit    string             `bson:"credit"`
	AddedBy   string             `bson:"added_by"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d mongoQuestionDoc) toQuestion() Question {
	return Question{
		Question:  d.Question,
		Credit:    d.Credit,
		AddedBy:   d.AddedBy,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// mongoStore implements Store on MongoDB
type mongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	counters     *mongo.Collection
	cases        *mongo.Collection
	modMail      *mongo.Collection
	questions    *mongo.Collection
	pendingRoles *mongo.Collection
	interactions *mongo.Collection
	logger       *slog.Logger
}

func newMongoStore(
	ctx context.Context,
	uri string,
	dbName string,
	handler slog.Handler,
) (*mongoStore, error) {
	client, err := mongo.Connect(
		ctx,
		options.Client().ApplyURI(uri).SetMonitor(newMongoCommandMonitor(handler)),
	)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongodb: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error pinging mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &mongoStore{
		client:       client,
		db:           db,
		counters:     db.Collection(mongoCollectionCounters),
		cases:        db.Collection(mongoCollectionModLogs),
		modMail:      db.Collection(mongoCollectionModMail),
		questions:    db.Collection(mongoCollectionQuestions),
		pendingRoles: db.Collection(mongoCollectionPendingRoles),
		interactions: db.Collection(mongoCollectionInteractions),
		logger:       slog.New(handler).With(loggerNameKey, "mongo_store"),
	}
	if err = s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *mongoStore) createIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.cases: {
			{Keys: bson.D{{Key: "case", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "case", Value: 1}}},
		},
		s.modMail: {
			{Keys: bson.D{{Key: "channel", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.pendingRoles: {
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "user", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		s.questions: {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
	}
	for col, models := range indexes {
		if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("error creating indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

func mongoNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *mongoStore) IncrementCounter(ctx context.Context, name string) (int64, error) {
	var doc mongoCounterDoc
	err := s.counters.FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (s *mongoStore) CreateCase(ctx context.Context, c *ModerationCase) error {
	_, err := s.cases.InsertOne(ctx, newMongoCaseDoc(c))
	return err
}

func (s *mongoStore) GetCase(ctx context.Context, caseNumber int64) (*ModerationCase, error) {
	var doc mongoCaseDoc
	if err := s.cases.FindOne(ctx, bson.M{"case": caseNumber}).Decode(&doc); err != nil {
		return nil, mongoNotFound(err)
	}
	return doc.toCase()
}

func caseQueryFilter(q CaseQuery) bson.M {
	filter := bson.M{"user": q.SubjectUserID}
	switch q.Filter {
	case CaseFilterExcludeNotes:
		filter["type"] = bson.M{"$ne": string(CaseKindNote)}
	case CaseFilterOnlyNotes:
		filter["type"] = string(CaseKindNote)
	}
	return filter
}

func (s *mongoStore) CountCases(ctx context.Context, q CaseQuery) (int64, error) {
	return s.cases.CountDocuments(ctx, caseQueryFilter(q))
}

func (s *mongoStore) ListCases(
	ctx context.Context,
	q CaseQuery,
	order SortOrder,
	skip int,
	limit int,
) ([]ModerationCase, error) {
	direction := 1
	if order == SortDescending {
		direction = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "case", Value: direction}})
	if skip > 0 {
		opts.SetSkip(int64(skip))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.cases.Find(ctx, caseQueryFilter(q), opts)
	if err != nil {
		return nil, err
	}
	var docs []mongoCaseDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	cases := make([]ModerationCase, 0, len(docs))
	for _, doc := range docs {
		c, e := doc.toCase()
		if e != nil {
			s.logger.WarnContext(ctx, "skipping invalid case document", "case", doc.Case, tint.Err(e))
			continue
		}
		cases = append(cases, *c)
	}
	return cases, nil
}

func (s *mongoStore) DeleteCase(ctx context.Context, caseNumber int64) (*ModerationCase, error) {
	var doc mongoCaseDoc
	if err := s.cases.FindOneAndDelete(ctx, bson.M{"case": caseNumber}).Decode(&doc); err != nil {
		return nil, mongoNotFound(err)
	}
	return doc.toCase()
}

func (s *mongoStore) CreatePendingRole(ctx context.Context, p *PendingRoleAssignment) error {
	_, err := s.pendingRoles.InsertOne(
		ctx,
		mongoPendingRoleDoc{
			ID:        p.ID,
			Kind:      p.Kind,
			User:      p.SubjectUserID,
			DueAt:     p.DueAt,
			CreatedAt: p.CreatedAt,
		},
	)
	return err
}

func (s *mongoStore) GetPendingRole(
	ctx context.Context,
	kind string,
	userID string,
) (*PendingRoleAssignment, error) {
	var doc mongoPendingRoleDoc
	err := s.pendingRoles.FindOne(ctx, bson.M{"kind": kind, "user": userID}).Decode(&doc)
	if err != nil {
		return nil, mongoNotFound(err)
	}
	p := doc.toPendingRole()
	return &p, nil
}

func (s *mongoStore) ListPendingRoles(ctx context.Context, kind string) ([]PendingRoleAssignment, error) {
	cursor, err := s.pendingRoles.Find(
		ctx,
		bson.M{"kind": kind},
		options.Find().SetSort(bson.D{{Key: "due_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []mongoPendingRoleDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	pending := make([]PendingRoleAssignment, 0, len(docs))
	for _, doc := range docs {
		pending = append(pending, doc.toPendingRole())
	}
	return pending, nil
}

func (s *mongoStore) DeletePendingRole(ctx context.Context, id string) error {
	_, err := s.pendingRoles.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *mongoStore) CreateModMail(ctx context.Context, m *ModMailThread) error {
	_, err := s.modMail.InsertOne(
		ctx,
		mongoModMailDoc{
			MailNumber: m.MailNumber,
			Channel:    m.ChannelID,
			User:       m.UserID,
			CreatedAt:  m.CreatedAt,
		},
	)
	return err
}

func (s *mongoStore) ListModMail(ctx context.Context) ([]ModMailThread, error) {
	cursor, err := s.modMail.Find(
		ctx,
		bson.M{},
		options.Find().SetSort(bson.D{{Key: "mail_number", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []mongoModMailDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	threads := make([]ModMailThread, 0, len(docs))
	for _, doc := range docs {
		threads = append(
			threads,
			ModMailThread{
				MailNumber: doc.MailNumber,
				ChannelID:  doc.Channel,
				UserID:     doc.User,
				CreatedAt:  doc.CreatedAt.UTC(),
			},
		)
	}
	return threads, nil
}

func (s *mongoStore) DeleteModMail(ctx context.Context, channelID string) error {
	_, err := s.modMail.DeleteOne(ctx, bson.M{"channel": channelID})
	return err
}

func (s *mongoStore) AddQuestion(ctx context.Context, q *Question) error {
	_, err := s.questions.InsertOne(
		ctx,
		mongoQuestionDoc{
			Question:  q.Question,
			Credit:    q.Credit,
			AddedBy:   q.AddedBy,
			CreatedAt: q.CreatedAt,
		},
	)
	return err
}

func (s *mongoStore) ListQuestions(ctx context.Context) ([]Question, error) {
	cursor, err := s.questions.Find(
		ctx,
		bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []mongoQuestionDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	questions := make([]Question, 0, len(docs))
	for _, doc := range docs {
		questions = append(questions, doc.toQuestion())
	}
	return questions, nil
}

func (s *mongoStore) PopQuestion(ctx context.Context) (*Question, error) {
	var doc mongoQuestionDoc
	err := s.questions.FindOneAndDelete(
		ctx,
		bson.M{},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		return nil, mongoNotFound(err)
	}
	q := doc.toQuestion()
	return &q, nil
}

func (s *mongoStore) LogInteraction(ctx context.Context, l *InteractionLog) error {
	_, err := s.interactions.InsertOne(
		ctx,
		bson.M{
			"interaction_id": l.InteractionID,
			"type":           l.Type,
			"user_id":        l.UserID,
			"username":       l.Username,
			"application_id": l.AppID,
			"guild_id":       l.GuildID,
			"channel_id":     l.ChannelID,
			"name":           l.Name,
			"payload":        l.Payload,
			"created_at":     time.UnixMilli(l.CreatedAt).UTC(),
		},
	)
	return err
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
