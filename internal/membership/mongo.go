package membership

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoService reads memberships from the portal's "group_members"
// collection. One row per (group, user); the role lives on the row.
type MongoService struct {
	col *mongo.Collection
}

type memberRow struct {
	GroupID string `bson:"groupId"`
	UserID  string `bson:"userId"`
	Role    string `bson:"role"`
}

func NewMongoService(col *mongo.Collection) *MongoService {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "groupId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	col.Indexes().CreateOne(context.Background(), idx)
	return &MongoService{col: col}
}

func (s *MongoService) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	err := s.col.FindOne(ctx, bson.M{"groupId": groupID, "userId": userID}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MongoService) RoleOf(ctx context.Context, groupID, userID string) (Role, error) {
	var row memberRow
	err := s.col.FindOne(ctx, bson.M{"groupId": groupID, "userId": userID}).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return RoleNone, nil
		}
		return RoleNone, err
	}
	switch Role(row.Role) {
	case RoleOwner:
		return RoleOwner, nil
	default:
		return RoleMember, nil
	}
}
