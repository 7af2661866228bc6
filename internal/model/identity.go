package model

// ProviderGoogle はGoogle IdPを表すプロバイダー名。
const ProviderGoogle = "google"

// ExternalIdentity はOAuthサインインで得られた外部アイデンティティ。
// 1回のサインイン試行の間だけ存在し、永続化しない。
type ExternalIdentity struct {
	Provider       string
	SubjectID      string
	Email          string
	DisplayName    string
	IDToken        string
	ServerAuthCode string
	Scopes         []string

	// 認可コードをこのサービスで交換済みの場合のトークン。
	// 認可コードは1回しか使えないため、このとき ServerAuthCode は空になる。
	AccessToken  string
	RefreshToken string
}

// Redeemed は認可コードを交換済みでトークンを保持しているかを返す。
func (e *ExternalIdentity) Redeemed() bool {
	return e.AccessToken != ""
}

// HasTokens はIDトークンと、サーバー認可コードまたは交換済みトークンが揃っているかを返す。
func (e *ExternalIdentity) HasTokens() bool {
	return e.IDToken != "" && (e.ServerAuthCode != "" || e.Redeemed())
}

// LinkResult はアイデンティティ解決の結果。
// 呼び出し元は IsNewUser で歓迎メッセージと遷移先を分岐する。
type LinkResult struct {
	User              *User `json:"user"`
	IsNewUser         bool  `json:"isNewUser"`
	GmailTokenUpdated bool  `json:"gmailTokenUpdated"`
}
