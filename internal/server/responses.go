package server

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/s3-authserver/internal/directory"
	"github.com/isometry/s3-authserver/internal/model"
)

// successCode is the RequestId of every successful response body.
const successCode = "0000"

type CommonResponse struct {
	ResponseMetadata struct {
		RequestId string `xml:"RequestId"`
	} `xml:"ResponseMetadata"`
}

func (r *CommonResponse) setRequestID(id string) {
	r.ResponseMetadata.RequestId = id
}

type response interface {
	setRequestID(id string)
}

type AccountResult struct {
	AccountId       string `xml:"AccountId"`
	AccountName     string `xml:"AccountName"`
	RootUserName    string `xml:"RootUserName"`
	AccessKeyId     string `xml:"AccessKeyId"`
	RootSecretKeyId string `xml:"RootSecretKeyId"`
	Status          string `xml:"Status"`
}

type CreateAccountResponse struct {
	XMLName             xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ CreateAccountResponse"`
	CreateAccountResult struct {
		Account AccountResult `xml:"Account"`
	} `xml:"CreateAccountResult"`
	CommonResponse
}

type AccountMember struct {
	AccountId   string `xml:"AccountId"`
	AccountName string `xml:"AccountName"`
}

type ListAccountsResponse struct {
	XMLName            xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ ListAccountsResponse"`
	ListAccountsResult struct {
		Accounts []AccountMember `xml:"Accounts>member"`
	} `xml:"ListAccountsResult"`
	CommonResponse
}

type DeleteAccountResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ DeleteAccountResponse"`
	CommonResponse
}

type CreateUserResponse struct {
	XMLName          xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ CreateUserResponse"`
	CreateUserResult struct {
		User iam.User `xml:"User"`
	} `xml:"CreateUserResult"`
	CommonResponse
}

type DeleteUserResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ DeleteUserResponse"`
	CommonResponse
}

type UpdateUserResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ UpdateUserResponse"`
	CommonResponse
}

type ListUsersResponse struct {
	XMLName         xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ ListUsersResponse"`
	ListUsersResult struct {
		Users       []*iam.User `xml:"Users>member"`
		IsTruncated bool        `xml:"IsTruncated"`
		Marker      string      `xml:"Marker,omitempty"`
	} `xml:"ListUsersResult"`
	CommonResponse
}

type CreateAccessKeyResponse struct {
	XMLName               xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ CreateAccessKeyResponse"`
	CreateAccessKeyResult struct {
		AccessKey iam.AccessKey `xml:"AccessKey"`
	} `xml:"CreateAccessKeyResult"`
	CommonResponse
}

type DeleteAccessKeyResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ DeleteAccessKeyResponse"`
	CommonResponse
}

type UpdateAccessKeyResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ UpdateAccessKeyResponse"`
	CommonResponse
}

type ListAccessKeysResponse struct {
	XMLName              xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ ListAccessKeysResponse"`
	ListAccessKeysResult struct {
		AccessKeyMetadata []*iam.AccessKeyMetadata `xml:"AccessKeyMetadata>member"`
		IsTruncated       bool                     `xml:"IsTruncated"`
		Marker            string                   `xml:"Marker,omitempty"`
	} `xml:"ListAccessKeysResult"`
	CommonResponse
}

type CreateSAMLProviderResponse struct {
	XMLName                  xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ CreateSAMLProviderResponse"`
	CreateSAMLProviderResult struct {
		SAMLProviderArn string `xml:"SAMLProviderArn"`
	} `xml:"CreateSAMLProviderResult"`
	CommonResponse
}

type UpdateSAMLProviderResponse struct {
	XMLName                  xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ UpdateSAMLProviderResponse"`
	UpdateSAMLProviderResult struct {
		SAMLProviderArn string `xml:"SAMLProviderArn"`
	} `xml:"UpdateSAMLProviderResult"`
	CommonResponse
}

type DeleteSAMLProviderResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ DeleteSAMLProviderResponse"`
	CommonResponse
}

type ListSAMLProvidersResponse struct {
	XMLName                 xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ ListSAMLProvidersResponse"`
	ListSAMLProvidersResult struct {
		SAMLProviderList []*iam.SAMLProviderListEntry `xml:"SAMLProviderList>member"`
	} `xml:"ListSAMLProvidersResult"`
	CommonResponse
}

type AuthenticateUserResponse struct {
	XMLName                xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ AuthenticateUserResponse"`
	AuthenticateUserResult struct {
		UserId      string `xml:"UserId"`
		UserName    string `xml:"UserName"`
		AccountId   string `xml:"AccountId"`
		AccountName string `xml:"AccountName"`
	} `xml:"AuthenticateUserResult"`
	CommonResponse
}

type InjectFaultResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ InjectFaultResponse"`
	CommonResponse
}

type ResetFaultResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ ResetFaultResponse"`
	CommonResponse
}

type ErrorResponse struct {
	XMLName xml.Name `xml:"https://iam.amazonaws.com/doc/2010-05-08/ ErrorResponse"`
	Error   struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
	CommonResponse
}

func iamUser(u *model.User) iam.User {
	return iam.User{
		UserId:     aws.String(u.ID),
		UserName:   aws.String(u.Name),
		Path:       aws.String(u.Path),
		Arn:        aws.String(u.ARN),
		CreateDate: aws.Time(u.CreatedAt),
	}
}

func iamAccessKeyMetadata(k *model.AccessKey) *iam.AccessKeyMetadata {
	return &iam.AccessKeyMetadata{
		AccessKeyId: aws.String(k.ID),
		UserName:    aws.String(k.UserName),
		Status:      aws.String(string(k.Status)),
		CreateDate:  aws.Time(k.CreatedAt),
	}
}

// nextMarker renders the marker of the page following p, or "" on the last
// page.
func nextMarker[T any](p *directory.Page[T]) string {
	if !p.IsTruncated {
		return ""
	}
	return strconv.Itoa(p.Marker)
}

func writeXML(w http.ResponseWriter, r *http.Request, status int, body response) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(body); err != nil {
		tflog.SubsystemError(r.Context(), Subsystem, "Failed to encode response", map[string]any{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeSuccess(w http.ResponseWriter, r *http.Request, body response) {
	body.setRequestID(successCode)
	writeXML(w, r, http.StatusOK, body)
}
